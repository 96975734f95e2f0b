package assets

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ukydev/care-assets/internal/cache"
	"github.com/ukydev/care-assets/internal/db"
	"github.com/ukydev/care-assets/internal/localstore"
	"github.com/ukydev/care-assets/internal/outbox"
	"github.com/ukydev/care-assets/internal/syncerr"
	"go.mongodb.org/mongo-driver/bson"
)

// mockRemoteStore keeps documents in memory, keyed by collection and id.
type mockRemoteStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]bson.M
	fail     map[string]error // by operation name
	writes   []string
	onChange func([]bson.Raw)
}

func newMockRemoteStore() *mockRemoteStore {
	return &mockRemoteStore{docs: map[string]map[string]bson.M{}, fail: map[string]error{}}
}

func (m *mockRemoteStore) failing(op string) error {
	return m.fail[op]
}

func (m *mockRemoteStore) seed(t *testing.T, collection, id string, v interface{}) {
	t.Helper()
	doc, err := toDocument(v)
	require.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]bson.M{}
	}
	m.docs[collection][id] = doc
}

func (m *mockRemoteStore) doc(collection, id string) bson.M {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[collection][id]
}

func (m *mockRemoteStore) Get(_ context.Context, collection, id string, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("get"); err != nil {
		return err
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return syncerr.Permanent("get", "not found", db.ErrNotFound)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func (m *mockRemoteStore) List(_ context.Context, collection string, filter bson.M, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("list"); err != nil {
		return err
	}
	matched := bson.A{}
	for _, doc := range m.docs[collection] {
		ok := true
		for k, v := range filter {
			if doc[k] != v {
				ok = false
			}
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	raw, err := bson.Marshal(bson.M{"v": matched})
	if err != nil {
		return err
	}
	return bson.Raw(raw).Lookup("v").Unmarshal(out)
}

func (m *mockRemoteStore) Put(_ context.Context, collection, id string, doc interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("put"); err != nil {
		return err
	}
	d, err := toDocument(doc)
	if err != nil {
		return err
	}
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]bson.M{}
	}
	m.docs[collection][id] = d
	m.writes = append(m.writes, fmt.Sprintf("put %s/%s", collection, id))
	return nil
}

func (m *mockRemoteStore) Update(_ context.Context, collection, id string, fields bson.M) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("update"); err != nil {
		return err
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return syncerr.Permanent("update", "not found", db.ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = v
	}
	m.writes = append(m.writes, fmt.Sprintf("update %s/%s", collection, id))
	return nil
}

func (m *mockRemoteStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("delete"); err != nil {
		return err
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return syncerr.Permanent("delete", "not found", db.ErrNotFound)
	}
	doc["status"] = "retired"
	m.writes = append(m.writes, fmt.Sprintf("delete %s/%s", collection, id))
	return nil
}

func (m *mockRemoteStore) Subscribe(_ context.Context, _ string, _ bson.M, onChange func([]bson.Raw)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing("subscribe"); err != nil {
		return nil, err
	}
	m.onChange = onChange
	return func() {
		m.mu.Lock()
		m.onChange = nil
		m.mu.Unlock()
	}, nil
}

func (m *mockRemoteStore) Ping(context.Context) error {
	return m.failing("ping")
}

func (m *mockRemoteStore) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

type fakeConnectivity struct {
	mu     sync.Mutex
	online bool
}

func (c *fakeConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConnectivity) SetOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	remote *mockRemoteStore
	queue  *outbox.Queue
	cache  *cache.AssetCache
	conn   *fakeConnectivity
}

// 10 March 2025, mid-morning.
var testNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	store := localstore.NewMemoryStore()
	remote := newMockRemoteStore()
	q := outbox.New(store, remote, outbox.Options{Now: func() time.Time { return testNow }})
	require.NoError(t, q.Load(context.Background()))
	c := cache.New(store)
	conn := &fakeConnectivity{online: online}
	return &fixture{
		svc:    NewService(remote, q, c, conn, func() time.Time { return testNow }),
		remote: remote,
		queue:  q,
		cache:  c,
		conn:   conn,
	}
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func intPtr(n int) *int { return &n }
