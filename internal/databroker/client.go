// Package databroker talks to the local KUKSA databroker over the
// kuksa.val.v1 gRPC API.
package databroker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ErrNotFound is returned when the databroker does not know a signal path.
var ErrNotFound = errors.New("signal not found")

// Metadata describes a signal.
type Metadata struct {
	Path        string
	DataType    DataType
	EntryType   EntryType
	Description string
	Unit        string
}

// ServerInfo identifies the databroker.
type ServerInfo struct {
	Name    string
	Version string
}

// Client is the signal store API used by the supervisor.
type Client interface {
	Connected() bool
	Connect(ctx context.Context) error
	CurrentValue(ctx context.Context, path string) (any, error)
	Metadata(ctx context.Context, path string) (*Metadata, error)
	SetCurrentValue(ctx context.Context, path string, dt DataType, value any) error
	SetTargetValue(ctx context.Context, path string, dt DataType, value any) error
	ServerInfo(ctx context.Context) (ServerInfo, error)
	Close() error
}

// GRPCClient implements Client with a single lazily-connected gRPC channel.
type GRPCClient struct {
	addr      string
	conn      *grpc.ClientConn
	connected atomic.Bool
}

// NewGRPCClient prepares a client for addr (host:port). No connection is made
// until the first call.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient("passthrough:///"+addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(16*1024*1024),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("databroker client for %s: %w", addr, err)
	}
	return &GRPCClient{addr: addr, conn: conn}, nil
}

// Addr returns the databroker address.
func (c *GRPCClient) Addr() string { return c.addr }

// Connected reports whether the last call reached the databroker.
func (c *GRPCClient) Connected() bool { return c.connected.Load() }

// Connect verifies the databroker answers.
func (c *GRPCClient) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.ServerInfo(ctx)
	return err
}

// Close releases the gRPC channel.
func (c *GRPCClient) Close() error {
	c.connected.Store(false)
	return c.conn.Close()
}

// ServerInfo returns the databroker name and version.
func (c *GRPCClient) ServerInfo(ctx context.Context) (ServerInfo, error) {
	req := newMessage(mdGetServerInfoRequest)
	resp := newMessage(mdGetServerInfoResponse)
	if err := c.invoke(ctx, methodGetServerInfo, req, resp); err != nil {
		return ServerInfo{}, err
	}
	f := mdGetServerInfoResponse.Fields()
	return ServerInfo{
		Name:    resp.Get(f.ByName("name")).String(),
		Version: resp.Get(f.ByName("version")).String(),
	}, nil
}

// CurrentValue returns the signal's current value, or nil when it has none.
func (c *GRPCClient) CurrentValue(ctx context.Context, path string) (any, error) {
	entry, err := c.get(ctx, path, viewCurrentValue, fieldValue)
	if err != nil {
		return nil, err
	}
	fd := mdDataEntry.Fields().ByName("value")
	if !entry.Has(fd) {
		return nil, nil
	}
	return fromDatapoint(entry.Get(fd).Message()), nil
}

// Metadata returns the signal's metadata. Unknown paths yield ErrNotFound.
func (c *GRPCClient) Metadata(ctx context.Context, path string) (*Metadata, error) {
	entry, err := c.get(ctx, path, viewMetadata, fieldMetadata)
	if err != nil {
		return nil, err
	}
	fd := mdDataEntry.Fields().ByName("metadata")
	if !entry.Has(fd) {
		return nil, fmt.Errorf("%s: no metadata returned", path)
	}
	m := entry.Get(fd).Message()
	mf := m.Descriptor().Fields()
	return &Metadata{
		Path:        path,
		DataType:    DataType(m.Get(mf.ByName("data_type")).Enum()),
		EntryType:   EntryType(m.Get(mf.ByName("entry_type")).Enum()),
		Description: m.Get(mf.ByName("description")).String(),
		Unit:        m.Get(mf.ByName("unit")).String(),
	}, nil
}

// SetCurrentValue publishes a sensor value.
func (c *GRPCClient) SetCurrentValue(ctx context.Context, path string, dt DataType, value any) error {
	return c.set(ctx, path, "value", fieldValue, dt, value)
}

// SetTargetValue requests an actuator target.
func (c *GRPCClient) SetTargetValue(ctx context.Context, path string, dt DataType, value any) error {
	return c.set(ctx, path, "actuator_target", fieldActuatorTarget, dt, value)
}

func (c *GRPCClient) get(ctx context.Context, path string, view, field int32) (protoreflect.Message, error) {
	er := newMessage(mdEntryRequest)
	ef := mdEntryRequest.Fields()
	er.Set(ef.ByName("path"), protoreflect.ValueOfString(path))
	er.Set(ef.ByName("view"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(view)))
	er.Mutable(ef.ByName("fields")).List().Append(protoreflect.ValueOfEnum(protoreflect.EnumNumber(field)))

	req := newMessage(mdGetRequest)
	req.Mutable(mdGetRequest.Fields().ByName("entries")).List().Append(protoreflect.ValueOfMessage(er))

	resp := newMessage(mdGetResponse)
	if err := c.invoke(ctx, methodGet, req, resp); err != nil {
		return nil, err
	}

	rf := mdGetResponse.Fields()
	if err := responseError(path, resp, rf.ByName("error"), rf.ByName("errors")); err != nil {
		return nil, err
	}
	entries := resp.Get(rf.ByName("entries")).List()
	for i := 0; i < entries.Len(); i++ {
		e := entries.Get(i).Message()
		if e.Get(mdDataEntry.Fields().ByName("path")).String() == path {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
}

func (c *GRPCClient) set(ctx context.Context, path, entryField string, field int32, dt DataType, value any) error {
	dp, err := toDatapoint(dt, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	entry := newMessage(mdDataEntry)
	df := mdDataEntry.Fields()
	entry.Set(df.ByName("path"), protoreflect.ValueOfString(path))
	entry.Set(df.ByName(protoreflect.Name(entryField)), protoreflect.ValueOfMessage(dp))

	update := newMessage(mdEntryUpdate)
	uf := mdEntryUpdate.Fields()
	update.Set(uf.ByName("entry"), protoreflect.ValueOfMessage(entry))
	update.Mutable(uf.ByName("fields")).List().Append(protoreflect.ValueOfEnum(protoreflect.EnumNumber(field)))

	req := newMessage(mdSetRequest)
	req.Mutable(mdSetRequest.Fields().ByName("updates")).List().Append(protoreflect.ValueOfMessage(update))

	resp := newMessage(mdSetResponse)
	if err := c.invoke(ctx, methodSet, req, resp); err != nil {
		return err
	}
	rf := mdSetResponse.Fields()
	return responseError(path, resp, rf.ByName("error"), rf.ByName("errors"))
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp *dynamicpb.Message) error {
	err := c.conn.Invoke(ctx, method, req, resp)
	if err != nil {
		if status.Code(err) == codes.Unavailable {
			c.connected.Store(false)
		}
		return fmt.Errorf("databroker %s: %w", method, err)
	}
	c.connected.Store(true)
	return nil
}

// responseError maps the Error / DataEntryError fields of a response to Go errors.
func responseError(path string, resp protoreflect.Message, single, list protoreflect.FieldDescriptor) error {
	errs := resp.Get(list).List()
	for i := 0; i < errs.Len(); i++ {
		de := errs.Get(i).Message()
		df := de.Descriptor().Fields()
		if err := entryError(de.Get(df.ByName("path")).String(), de.Get(df.ByName("error")).Message()); err != nil {
			return err
		}
	}
	if resp.Has(single) {
		return entryError(path, resp.Get(single).Message())
	}
	return nil
}

func entryError(path string, e protoreflect.Message) error {
	f := e.Descriptor().Fields()
	code := e.Get(f.ByName("code")).Uint()
	if code == 0 || code == 200 {
		return nil
	}
	if code == 404 {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return fmt.Errorf("%s: %s (%d): %s", path, e.Get(f.ByName("reason")).String(), code, e.Get(f.ByName("message")).String())
}
