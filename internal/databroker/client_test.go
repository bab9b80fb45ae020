package databroker

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

type brokerSignal struct {
	dt    DataType
	et    EntryType
	value any
}

// fakeBroker serves the kuksa.val.v1 methods from an in-memory catalog.
type fakeBroker struct {
	mu      sync.Mutex
	signals map[string]*brokerSignal
	targets map[string]any
}

func (b *fakeBroker) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	switch method {
	case methodGetServerInfo:
		if err := stream.RecvMsg(newMessage(mdGetServerInfoRequest)); err != nil {
			return err
		}
		resp := newMessage(mdGetServerInfoResponse)
		resp.Set(mdGetServerInfoResponse.Fields().ByName("name"), protoreflect.ValueOfString("databroker"))
		return stream.SendMsg(resp)
	case methodGet:
		req := newMessage(mdGetRequest)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		return stream.SendMsg(b.get(req))
	case methodSet:
		req := newMessage(mdSetRequest)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		return stream.SendMsg(b.set(req))
	}
	return status.Error(codes.Unimplemented, method)
}

func notFound(path string) *dynamicpb.Message {
	e := newMessage(mdError)
	e.Set(mdError.Fields().ByName("code"), protoreflect.ValueOfUint32(404))
	e.Set(mdError.Fields().ByName("reason"), protoreflect.ValueOfString("not_found"))
	de := newMessage(mdDataEntryError)
	de.Set(mdDataEntryError.Fields().ByName("path"), protoreflect.ValueOfString(path))
	de.Set(mdDataEntryError.Fields().ByName("error"), protoreflect.ValueOfMessage(e))
	return de
}

func (b *fakeBroker) get(req *dynamicpb.Message) *dynamicpb.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp := newMessage(mdGetResponse)
	rf := mdGetResponse.Fields()
	entries := req.Get(mdGetRequest.Fields().ByName("entries")).List()
	for i := 0; i < entries.Len(); i++ {
		er := entries.Get(i).Message()
		path := er.Get(mdEntryRequest.Fields().ByName("path")).String()
		view := er.Get(mdEntryRequest.Fields().ByName("view")).Enum()

		sig, ok := b.signals[path]
		if !ok {
			resp.Mutable(rf.ByName("errors")).List().Append(protoreflect.ValueOfMessage(notFound(path)))
			continue
		}
		entry := newMessage(mdDataEntry)
		df := mdDataEntry.Fields()
		entry.Set(df.ByName("path"), protoreflect.ValueOfString(path))
		switch view {
		case viewCurrentValue:
			if sig.value != nil {
				dp, _ := toDatapoint(sig.dt, sig.value)
				entry.Set(df.ByName("value"), protoreflect.ValueOfMessage(dp))
			}
		case viewMetadata:
			md := newMessage(df.ByName("metadata").Message())
			mf := md.Descriptor().Fields()
			md.Set(mf.ByName("data_type"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(sig.dt)))
			md.Set(mf.ByName("entry_type"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(sig.et)))
			md.Set(mf.ByName("unit"), protoreflect.ValueOfString("km/h"))
			entry.Set(df.ByName("metadata"), protoreflect.ValueOfMessage(md))
		}
		resp.Mutable(rf.ByName("entries")).List().Append(protoreflect.ValueOfMessage(entry))
	}
	return resp
}

func (b *fakeBroker) set(req *dynamicpb.Message) *dynamicpb.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp := newMessage(mdSetResponse)
	updates := req.Get(mdSetRequest.Fields().ByName("updates")).List()
	for i := 0; i < updates.Len(); i++ {
		entry := updates.Get(i).Message().Get(mdEntryUpdate.Fields().ByName("entry")).Message()
		df := mdDataEntry.Fields()
		path := entry.Get(df.ByName("path")).String()
		sig, ok := b.signals[path]
		if !ok {
			resp.Mutable(mdSetResponse.Fields().ByName("errors")).List().Append(protoreflect.ValueOfMessage(notFound(path)))
			continue
		}
		if entry.Has(df.ByName("actuator_target")) {
			b.targets[path] = fromDatapoint(entry.Get(df.ByName("actuator_target")).Message())
		}
		if entry.Has(df.ByName("value")) {
			sig.value = fromDatapoint(entry.Get(df.ByName("value")).Message())
		}
	}
	return resp
}

func startFakeBroker(t *testing.T) (*fakeBroker, *GRPCClient) {
	t.Helper()
	b := &fakeBroker{
		signals: map[string]*brokerSignal{
			"Vehicle.Speed":                  {dt: DataTypeFloat, et: EntryTypeSensor, value: 42.0},
			"Vehicle.Cabin.Seat.Row1.Height": {dt: DataTypeUint16, et: EntryTypeActuator},
			"Vehicle.Body.Lights.IsOn":       {dt: DataTypeBoolean, et: EntryTypeActuator},
		},
		targets: map[string]any{},
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(b.handle))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return b, c
}

func TestClientReadsCurrentValue(t *testing.T) {
	_, c := startFakeBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.False(t, c.Connected())
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.Connected())

	v, err := c.CurrentValue(ctx, "Vehicle.Speed")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	v, err = c.CurrentValue(ctx, "Vehicle.Cabin.Seat.Row1.Height")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = c.CurrentValue(ctx, "Vehicle.Nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClientMetadata(t *testing.T) {
	_, c := startFakeBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	md, err := c.Metadata(ctx, "Vehicle.Cabin.Seat.Row1.Height")
	require.NoError(t, err)
	assert.Equal(t, EntryTypeActuator, md.EntryType)
	assert.Equal(t, DataTypeUint16, md.DataType)
	assert.Equal(t, "km/h", md.Unit)

	_, err = c.Metadata(ctx, "Vehicle.Unknown")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClientSetValues(t *testing.T) {
	b, c := startFakeBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.SetTargetValue(ctx, "Vehicle.Cabin.Seat.Row1.Height", DataTypeUint16, 300.0))
	require.NoError(t, c.SetCurrentValue(ctx, "Vehicle.Speed", DataTypeFloat, "88"))

	b.mu.Lock()
	assert.Equal(t, uint64(300), b.targets["Vehicle.Cabin.Seat.Row1.Height"])
	assert.Equal(t, 88.0, b.signals["Vehicle.Speed"].value)
	b.mu.Unlock()

	err := c.SetCurrentValue(ctx, "Vehicle.Missing", DataTypeFloat, 1.0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClientServerInfoViaProbe(t *testing.T) {
	_, c := startFakeBroker(t)
	require.NoError(t, WaitUntilReady(context.Background(), c, 3, 10*time.Millisecond))
}
