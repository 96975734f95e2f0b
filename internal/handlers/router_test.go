package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/care-assets/internal/assets"
	"github.com/ukydev/care-assets/internal/cache"
	"github.com/ukydev/care-assets/internal/db"
	"github.com/ukydev/care-assets/internal/localstore"
	"github.com/ukydev/care-assets/internal/middleware"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/outbox"
	"github.com/ukydev/care-assets/internal/syncerr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memoryRemote is a minimal in-memory RemoteStore.
type memoryRemote struct {
	mu     sync.Mutex
	docs   map[string]map[string]bson.M
	reject map[string]string // document id -> rejection reason
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{docs: map[string]map[string]bson.M{}, reject: map[string]string{}}
}

func (m *memoryRemote) coll(name string) map[string]bson.M {
	if m.docs[name] == nil {
		m.docs[name] = map[string]bson.M{}
	}
	return m.docs[name]
}

func decodeInto(v interface{}, out interface{}) error {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return err
	}
	return bson.Raw(raw).Lookup("v").Unmarshal(out)
}

func (m *memoryRemote) Get(_ context.Context, collection, id string, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.coll(collection)[id]
	if !ok {
		return syncerr.Permanent("get", "not found", db.ErrNotFound)
	}
	return decodeInto(doc, out)
}

func (m *memoryRemote) List(_ context.Context, collection string, filter bson.M, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := bson.A{}
	for _, doc := range m.coll(collection) {
		match := true
		for k, v := range filter {
			if doc[k] != v {
				match = false
			}
		}
		if match {
			list = append(list, doc)
		}
	}
	return decodeInto(list, out)
}

func (m *memoryRemote) Put(_ context.Context, collection, id string, doc interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason, ok := m.reject[id]; ok {
		return syncerr.Permanent("put", reason, nil)
	}
	var d bson.M
	if err := decodeInto(doc, &d); err != nil {
		return err
	}
	m.coll(collection)[id] = d
	return nil
}

func (m *memoryRemote) Update(_ context.Context, collection, id string, fields bson.M) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason, ok := m.reject[id]; ok {
		return syncerr.Permanent("update", reason, nil)
	}
	doc, ok := m.coll(collection)[id]
	if !ok {
		return syncerr.Permanent("update", "not found", db.ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (m *memoryRemote) Delete(ctx context.Context, collection, id string) error {
	return m.Update(ctx, collection, id, bson.M{"status": string(models.AssetRetired)})
}

func (m *memoryRemote) Subscribe(context.Context, string, bson.M, func([]bson.Raw)) (func(), error) {
	return func() {}, nil
}

func (m *memoryRemote) Ping(context.Context) error { return nil }

type switchConn struct {
	mu     sync.Mutex
	online bool
}

func (c *switchConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *switchConn) SetOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

type apiFixture struct {
	t       *testing.T
	handler http.Handler
	remote  *memoryRemote
	queue   *outbox.Queue
	conn    *switchConn
	tokens  map[models.Role]string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	authService := newAuthService(t)
	store := localstore.NewMemoryStore()
	remote := newMemoryRemote()
	queue := outbox.New(store, remote, outbox.Options{})
	require.NoError(t, queue.Load(context.Background()))
	conn := &switchConn{online: true}
	clock := func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) }
	svc := assets.NewService(remote, queue, cache.New(store), conn, clock)

	rt := &Router{
		Auth:     NewAuthHandler(authService, new(MockStaffCollection)),
		Assets:   NewAssetHandler(svc),
		Sync:     NewSyncHandler(queue, conn.Online),
		AuthMW:   middleware.NewAuthMiddleware(authService),
		Limiter:  middleware.NewRateLimitMiddleware(),
		Facility: "Maple Court",
	}

	tokens := map[models.Role]string{}
	for _, role := range []models.Role{models.RoleAdmin, models.RoleMaintenance, models.RoleCarer, models.RoleViewer} {
		token, err := authService.GenerateToken(&models.Staff{ID: primitive.NewObjectID(), Username: string(role) + ".user", Role: role})
		require.NoError(t, err)
		tokens[role] = token
	}
	return &apiFixture{t: t, handler: rt.Handler(), remote: remote, queue: queue, conn: conn, tokens: tokens}
}

func (f *apiFixture) do(role models.Role, method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	req := jsonRequest(f.t, method, path, body)
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[role])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type createdAsset struct {
	Data   models.Asset       `json:"data"`
	Result assets.WriteResult `json:"result"`
}

func (f *apiFixture) createAsset(name string) models.Asset {
	f.t.Helper()
	w := f.do(models.RoleMaintenance, http.MethodPost, "/api/assets", map[string]interface{}{
		"name":                   name,
		"category":               "hoist",
		"qr_code":                "QR-" + name,
		"last_service_date":      "2025-01-01T00:00:00Z",
		"service_frequency_days": 30,
	})
	require.Contains(f.t, []int{http.StatusCreated, http.StatusAccepted}, w.Code, w.Body.String())
	var resp createdAsset
	decodeBody(f.t, w, &resp)
	return resp.Data
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do("", http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decodeBody(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do("", http.MethodGet, "/api/assets", nil).Code)
}

func TestAPI_CreateAndRead(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(models.RoleMaintenance, http.MethodPost, "/api/assets", map[string]interface{}{
		"name": "Ceiling hoist", "category": "hoist", "qr_code": "QR-1",
		"last_service_date": "2025-01-01T00:00:00Z", "service_frequency_days": 30,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created createdAsset
	decodeBody(t, w, &created)
	assert.False(t, created.Result.Queued)
	assert.Equal(t, "maintenance.user", created.Data.UpdatedBy)

	w = f.do(models.RoleViewer, http.MethodGet, "/api/assets/"+created.Data.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Asset
	decodeBody(t, w, &got)
	assert.Equal(t, "overdue", string(got.ServiceStatus))

	w = f.do(models.RoleViewer, http.MethodGet, "/api/qr/QR-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(models.RoleViewer, http.MethodGet, "/api/assets?service_status=overdue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Asset
	decodeBody(t, w, &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(models.RoleViewer, http.MethodGet, "/api/assets?category=trolley", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(models.RoleViewer, http.MethodGet, "/api/assets/nope", nil).Code)
}

func TestAPI_Permissions(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createAsset("Bed")

	assert.Equal(t, http.StatusForbidden, f.do(models.RoleViewer, http.MethodPost, "/api/assets", map[string]string{"name": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(models.RoleCarer, http.MethodDelete, "/api/assets/"+a.ID, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(models.RoleCarer, http.MethodPost, "/api/sync/flush", nil).Code)

	w := f.do(models.RoleCarer, http.MethodPost, "/api/assets/"+a.ID+"/assign", map[string]string{"assigned_to": "Room 4"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Room 4", f.remote.docs[models.AssetsCollection][a.ID]["assigned_to"])
}

func TestAPI_ScanLookupAndServiceHistoryRoutes(t *testing.T) {
	var f *apiFixture
	require.NotPanics(t, func() { f = newAPIFixture(t) })
	a := f.createAsset("services")

	w := f.do(models.RoleViewer, http.MethodGet, "/api/qr/QR-services", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Asset
	decodeBody(t, w, &got)
	assert.Equal(t, a.ID, got.ID)

	w = f.do(models.RoleViewer, http.MethodGet, "/api/assets/"+a.ID+"/services", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusNotFound, f.do(models.RoleViewer, http.MethodGet, "/api/qr/unknown", nil).Code)
}

func TestAPI_RetiredAssetsStayRetired(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createAsset("Commode")

	require.Equal(t, http.StatusOK, f.do(models.RoleAdmin, http.MethodDelete, "/api/assets/"+a.ID, nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(models.RoleCarer, http.MethodPost, "/api/assets/"+a.ID+"/assign",
		map[string]string{"assigned_to": "Room 4"}).Code)
	assert.Equal(t, http.StatusConflict, f.do(models.RoleMaintenance, http.MethodPut, "/api/assets/"+a.ID,
		map[string]string{"status": "active"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(models.RoleMaintenance, http.MethodPut, "/api/assets/"+f.createAsset("Sling").ID,
		map[string]string{"status": "retired"}).Code)
	assert.Equal(t, "retired", f.remote.docs[models.AssetsCollection][a.ID]["status"])
}

func TestAPI_CreateWithTakenIDConflicts(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createAsset("Hoist")

	w := f.do(models.RoleMaintenance, http.MethodPost, "/api/assets", map[string]string{"id": a.ID, "name": "Something else"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "Hoist", f.remote.docs[models.AssetsCollection][a.ID]["name"])
}

func TestAPI_UnknownAssetIsNotFound(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(models.RoleMaintenance, http.MethodPut, "/api/assets/missing",
		map[string]string{"notes": "x"}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(models.RoleAdmin, http.MethodDelete, "/api/assets/missing", nil).Code)
}

func TestAPI_Validation(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(models.RoleAdmin, http.MethodPost, "/api/assets", map[string]string{"name": ""}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(models.RoleAdmin, http.MethodPut, "/api/assets/x", map[string]string{}).Code)
}

func TestAPI_OfflineWritesAreQueuedAndFlushed(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createAsset("Scale")

	f.conn.SetOnline(false)
	w := f.do(models.RoleCarer, http.MethodPost, "/api/assets/"+a.ID+"/out-of-service", map[string]string{"note": "display cracked"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = f.do(models.RoleViewer, http.MethodGet, "/api/sync/status", nil)
	var status struct {
		Pending int  `json:"pending"`
		Online  bool `json:"online"`
	}
	decodeBody(t, w, &status)
	assert.Equal(t, 1, status.Pending)
	assert.False(t, status.Online)

	assert.Equal(t, http.StatusServiceUnavailable, f.do(models.RoleAdmin, http.MethodPost, "/api/sync/flush", nil).Code)

	f.conn.SetOnline(true)
	w = f.do(models.RoleAdmin, http.MethodPost, "/api/sync/flush", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result outbox.FlushResult
	decodeBody(t, w, &result)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, "out-of-service", f.remote.docs[models.AssetsCollection][a.ID]["status"])
}

func TestAPI_DeadLetters(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createAsset("Wheelchair")

	f.conn.SetOnline(false)
	require.Equal(t, http.StatusAccepted, f.do(models.RoleMaintenance, http.MethodPost, "/api/assets/"+a.ID+"/spare", nil).Code)
	f.remote.reject[a.ID] = "write not permitted"
	f.conn.SetOnline(true)
	require.Equal(t, http.StatusOK, f.do(models.RoleAdmin, http.MethodPost, "/api/sync/flush", nil).Code)

	w := f.do(models.RoleAdmin, http.MethodGet, "/api/sync/dead-letters", nil)
	var dead []models.DeadLetter
	decodeBody(t, w, &dead)
	require.Len(t, dead, 1)
	assert.Equal(t, "write not permitted", dead[0].Reason)

	// a direct write that is rejected comes back to the caller
	w = f.do(models.RoleMaintenance, http.MethodPut, "/api/assets/"+a.ID, map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	delete(f.remote.reject, a.ID)
	w = f.do(models.RoleAdmin, http.MethodPost, "/api/sync/dead-letters/"+dead[0].Mutation.ID+"/requeue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.queue.Pending(), 1)

	assert.Equal(t, http.StatusNotFound, f.do(models.RoleAdmin, http.MethodDelete, "/api/sync/dead-letters/unknown", nil).Code)
}

func TestAPI_ServiceRecords(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createAsset("Hoist")

	w := f.do(models.RoleMaintenance, http.MethodPost, "/api/assets/"+a.ID+"/services", map[string]interface{}{
		"service_date": "2025-03-05",
		"type":         "inspection",
		"cost":         120.5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, http.StatusBadRequest, f.do(models.RoleMaintenance, http.MethodPost, "/api/assets/"+a.ID+"/services",
		map[string]string{"service_date": "5 March"}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(models.RoleCarer, http.MethodPost, "/api/assets/"+a.ID+"/services",
		map[string]string{"type": "routine"}).Code)

	w = f.do(models.RoleViewer, http.MethodGet, "/api/assets/"+a.ID+"/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []models.ServiceRecord
	decodeBody(t, w, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "maintenance.user", records[0].PerformedBy)

	w = f.do(models.RoleViewer, http.MethodGet, "/api/assets/"+a.ID, nil)
	var got models.Asset
	decodeBody(t, w, &got)
	assert.Equal(t, "due-soon", string(got.ServiceStatus))
}

func TestAPI_Import(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(models.RoleAdmin, http.MethodPost, "/api/assets/import", []assets.ImportRow{
		{Name: "Sling", Category: "hoist", ServiceFrequency: "6-monthly"},
		{Name: "Mystery", ServiceFrequency: "sometimes"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Imported int `json:"imported"`
		Failed   int `json:"failed"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, 1, body.Imported)
	assert.Equal(t, 1, body.Failed)

	assert.Equal(t, http.StatusBadRequest, f.do(models.RoleAdmin, http.MethodPost, "/api/assets/import", []assets.ImportRow{}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(models.RoleCarer, http.MethodPost, "/api/assets/import", []assets.ImportRow{{Name: "x"}}).Code)
}
