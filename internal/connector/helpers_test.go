package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeTransport returns canned replies keyed by path and counts calls.
type fakeTransport struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   atomic.Int32
	last    Request
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeTransport) Transport() Transport {
	return func(ctx context.Context, req Request) (Response, error) {
		f.calls.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.last = req
		if err, ok := f.errs[req.Path]; ok {
			return Response{}, err
		}
		return Response{Status: 200, Body: []byte(f.replies[req.Path])}, nil
	}
}

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }
