package client

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func overwrite(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(data, offset)
	return err
}

func TestDefaultClientOptions(t *testing.T) {
	options := DefaultClientOptions()

	if options.Endpoint != "localhost:50051" {
		t.Errorf("Expected default endpoint to be localhost:50051, got %s", options.Endpoint)
	}

	if options.RequestTimeout != 10*time.Second {
		t.Errorf("Expected default request timeout to be 10s, got %s", options.RequestTimeout)
	}

	if options.TLSEnabled {
		t.Errorf("Expected default TLS enabled to be false")
	}

	if options.Retry.MaxRetries != 3 {
		t.Errorf("Expected default max retries to be 3, got %d", options.Retry.MaxRetries)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	options := DefaultClientOptions()
	options.Endpoint = ""
	if _, err := NewClient(options); err == nil {
		t.Errorf("Expected an error for an empty endpoint")
	}

	options = DefaultClientOptions()
	options.TLSEnabled = true
	options.CAFile = "/nonexistent/ca.pem"
	if _, err := NewClient(options); err == nil {
		t.Errorf("Expected an error for a missing CA file")
	}
}

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
		Jitter:         0.1,
	}

	t.Run("retries unavailable", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), policy, func(context.Context) error {
			calls++
			if calls < 3 {
				return status.Error(codes.Unavailable, "down")
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("expected success after 3 calls, got %d calls, %v", calls, err)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), policy, func(context.Context) error {
			calls++
			return status.Error(codes.Unavailable, "down")
		})
		if status.Code(err) != codes.Unavailable || calls != policy.MaxRetries+1 {
			t.Errorf("expected %d calls and Unavailable, got %d, %v", policy.MaxRetries+1, calls, err)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		want := status.Error(codes.NotFound, "missing")
		err := withRetry(context.Background(), policy, func(context.Context) error {
			calls++
			return want
		})
		if !errors.Is(err, want) || calls != 1 {
			t.Errorf("expected a single call, got %d, %v", calls, err)
		}
	})

	t.Run("stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := policy
		slow.InitialBackoff = time.Second
		slow.MaxBackoff = time.Second
		err := withRetry(ctx, slow, func(context.Context) error {
			cancel()
			return status.Error(codes.Unavailable, "down")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
