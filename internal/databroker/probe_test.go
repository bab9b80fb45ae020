package databroker

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type scriptedInfo struct {
	errs  []error
	calls int
}

func (s *scriptedInfo) ServerInfo(context.Context) (ServerInfo, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return ServerInfo{}, s.errs[s.calls-1]
	}
	return ServerInfo{Name: "databroker", Version: "0.4.4"}, nil
}

var refused = status.Error(codes.Unavailable,
	`connection error: desc = "transport: Error while dialing: dial tcp 127.0.0.1:55555: connect: connection refused"`)

func TestWaitUntilReadyRetriesRefused(t *testing.T) {
	src := &scriptedInfo{errs: []error{refused, fmt.Errorf("wrapped: %w", syscall.ECONNREFUSED)}}
	err := WaitUntilReady(context.Background(), src, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestWaitUntilReadyFailsFastOnOtherErrors(t *testing.T) {
	src := &scriptedInfo{errs: []error{status.Error(codes.PermissionDenied, "no token")}}
	err := WaitUntilReady(context.Background(), src, 5, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestWaitUntilReadyExhausts(t *testing.T) {
	src := &scriptedInfo{errs: []error{refused, refused, refused}}
	err := WaitUntilReady(context.Background(), src, 3, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready after 3 attempts")
	assert.Equal(t, 3, src.calls)
}

func TestWaitUntilReadyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedInfo{errs: []error{refused, refused}}
	err := WaitUntilReady(ctx, src, 3, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIsConnectionRefused(t *testing.T) {
	assert.True(t, IsConnectionRefused(refused))
	assert.True(t, IsConnectionRefused(syscall.ECONNREFUSED))
	assert.False(t, IsConnectionRefused(status.Error(codes.Unavailable, "server shutting down")))
	assert.False(t, IsConnectionRefused(errors.New("boom")))
	assert.False(t, IsConnectionRefused(nil))
}
