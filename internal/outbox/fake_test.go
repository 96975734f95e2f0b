package outbox

import (
	"context"
	"errors"
	"sync"

	"github.com/ukydev/care-assets/internal/localstore"
	"go.mongodb.org/mongo-driver/bson"
)

type remoteCall struct {
	Kind       string
	Collection string
	ID         string
	Payload    bson.M
}

// fakeRemote records every replayed call. fail decides the outcome of each
// call; gate, when set, holds calls until it is closed.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []remoteCall
	fail    func(c remoteCall) error
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeRemote) do(ctx context.Context, c remoteCall) error {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return fail(c)
	}
	return nil
}

func (f *fakeRemote) Put(ctx context.Context, collection, id string, doc interface{}) error {
	payload, _ := doc.(bson.M)
	return f.do(ctx, remoteCall{"put", collection, id, payload})
}

func (f *fakeRemote) Update(ctx context.Context, collection, id string, fields bson.M) error {
	return f.do(ctx, remoteCall{"update", collection, id, fields})
}

func (f *fakeRemote) Delete(ctx context.Context, collection, id string) error {
	return f.do(ctx, remoteCall{"delete", collection, id, nil})
}

func (f *fakeRemote) Calls() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remoteCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// brokenStore fails every write.
type brokenStore struct {
	*localstore.MemoryStore
}

func (brokenStore) Set(context.Context, string, string) error {
	return errors.New("disk full")
}
