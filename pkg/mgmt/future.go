package mgmt

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

// Future is a pending long-running operation.
type Future interface {
	// Done reports whether the operation reached a terminal state.
	Done() bool
	// Poll advances the operation by one status request.
	Poll(ctx context.Context) error
	// WaitForTerminalState blocks until the operation finishes and returns its final body.
	WaitForTerminalState(ctx context.Context) (Resource, error)
}

type pollerFuture struct {
	poller    *runtime.Poller[Resource]
	frequency time.Duration
}

func (f *pollerFuture) Done() bool {
	return f.poller.Done()
}

func (f *pollerFuture) Poll(ctx context.Context) error {
	_, err := f.poller.Poll(ctx)
	return err
}

func (f *pollerFuture) WaitForTerminalState(ctx context.Context) (Resource, error) {
	return f.poller.PollUntilDone(ctx, &runtime.PollUntilDoneOptions{Frequency: f.frequency})
}

type completedFuture struct {
	result Resource
	err    error
}

// CompletedFuture returns a Future that is already terminal.
func CompletedFuture(result Resource, err error) Future {
	return &completedFuture{result: result, err: err}
}

func (f *completedFuture) Done() bool {
	return true
}

func (f *completedFuture) Poll(ctx context.Context) error {
	return f.err
}

func (f *completedFuture) WaitForTerminalState(ctx context.Context) (Resource, error) {
	return f.result, f.err
}
