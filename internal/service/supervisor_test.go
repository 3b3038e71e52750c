package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/chapool/hot-wallet/internal/service"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	supervisor := service.NewSupervisor(
		service.Task{Name: "loop", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- supervisor.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestRunPropagatesFirstFailure(t *testing.T) {
	failure := errors.New("store corrupted")
	stopped := make(chan struct{})

	supervisor := service.NewSupervisor(
		service.Task{Name: "failing", Run: func(context.Context) error {
			return failure
		}},
		service.Task{Name: "healthy", Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}},
	)

	err := supervisor.Run(context.Background())
	require.ErrorIs(t, err, failure)

	// The healthy task was cancelled by the failure.
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling task was not cancelled")
	}
}
