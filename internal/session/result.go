package session

import (
	"context"

	"github.com/zombor/docscan/internal/scanning"
)

// Status is the terminal state of a scan session
type Status string

const (
	StatusSuccess   Status = "success"
	StatusCancelled Status = "cancel"
	StatusFailed    Status = "failed"
)

// Result is the terminal outcome of a scan session. Images is set for
// StatusSuccess, Err for StatusFailed.
type Result struct {
	Status Status
	Images []string
	Err    error
}

func success(images []string) Result {
	if images == nil {
		images = []string{}
	}
	return Result{Status: StatusSuccess, Images: images}
}

func cancelled() Result {
	return Result{Status: StatusCancelled}
}

func failure(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// Call is an accepted scan request whose result arrives later
type Call struct {
	ID      string
	Handoff *scanning.Handoff

	done   chan struct{}
	result Result
}

func newCall(id string) *Call {
	return &Call{ID: id, done: make(chan struct{})}
}

// Done is closed once the result is available
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the session ends or ctx is done. Abandoning the wait does
// not end the session.
func (c *Call) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Call) resolve(result Result) {
	c.result = result
	close(c.done)
}
