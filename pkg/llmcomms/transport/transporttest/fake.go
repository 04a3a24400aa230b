// Package transporttest provides a scriptable fake transport.Port for
// exercising provider adapters and the middleware chain without a network.
package transporttest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms/transport"
)

// Responder produces a response (or error) for a given request. Scripts
// set Responder per call, or fall back to Default when the queue is
// empty.
type Responder func(ctx context.Context, req transport.Request) (*transport.Response, error)

// Fake is a scriptable transport.Port: calls are served from an ordered
// queue of Responders, falling back to Default once the queue is
// exhausted. All fields are safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	queue   []Responder
	Default Responder

	// Calls records every request passed to Do or DoStream, in order.
	Calls []transport.Request
}

// Enqueue appends r to the response queue.
func (f *Fake) Enqueue(r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, r)
}

// EnqueueJSON enqueues a response with the given status code and body as
// its JSON payload.
func (f *Fake) EnqueueJSON(status int, body []byte) {
	f.Enqueue(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return &transport.Response{
			StatusCode: status,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       io.NopCloser(bytes.NewReader(body)),
		}, nil
	})
}

// EnqueueError enqueues a transport-level failure (no HTTP response at
// all, e.g. connection refused).
func (f *Fake) EnqueueError(err error) {
	f.Enqueue(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return nil, err
	})
}

func (f *Fake) next() Responder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return f.Default
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r
}

func (f *Fake) record(req transport.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
}

// Do implements transport.Port.
func (f *Fake) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	f.record(req)
	r := f.next()
	if r == nil {
		return nil, fmt.Errorf("transporttest: no responder scripted for %s %s", req.Method, req.URL)
	}
	return r(ctx, req)
}

// DoStream implements transport.Port.
func (f *Fake) DoStream(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return f.Do(ctx, req)
}
