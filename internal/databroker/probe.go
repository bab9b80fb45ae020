package databroker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InfoSource is anything that can answer a server-info request.
type InfoSource interface {
	ServerInfo(ctx context.Context) (ServerInfo, error)
}

// WaitUntilReady polls src until it answers. Connection-refused errors are
// retried up to maxAttempts times, interval apart; any other error is
// returned immediately.
func WaitUntilReady(ctx context.Context, src InfoSource, maxAttempts int, interval time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		info, err := src.ServerInfo(ctx)
		if err == nil {
			log.Printf("databroker: ready (%s %s) after %d attempt(s)", info.Name, info.Version, attempt)
			return nil
		}
		if !IsConnectionRefused(err) {
			return fmt.Errorf("databroker readiness: %w", err)
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("databroker not ready after %d attempts: %w", maxAttempts, lastErr)
}

// IsConnectionRefused reports whether err means nothing is listening yet.
func IsConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.Unavailable {
		return strings.Contains(strings.ToLower(s.Message()), "connection refused")
	}
	return false
}
