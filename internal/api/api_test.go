package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/rentfolio/go-push-service/internal/api"
	"github.com/rentfolio/go-push-service/internal/device"
	"github.com/rentfolio/go-push-service/internal/dispatch"
	"github.com/rentfolio/go-push-service/internal/platform/noop"
	"github.com/rentfolio/go-push-service/internal/provider"
	"github.com/rentfolio/go-push-service/internal/stats"
	"github.com/rentfolio/go-push-service/internal/template"
	"github.com/rentfolio/go-push-service/pkg/push"
)

// --- In-memory fixtures ---

type memDeviceStore struct {
	mu      sync.Mutex
	devices map[string]push.Device
}

func newMemDeviceStore() *memDeviceStore {
	return &memDeviceStore{devices: make(map[string]push.Device)}
}

func (s *memDeviceStore) Upsert(_ context.Context, d push.Device) (*push.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.devices[d.ID]; ok {
		d = existing.MergeRegistration(d, time.Now().UTC())
	}
	s.devices[d.ID] = d
	out := d
	return &out, nil
}

func (s *memDeviceStore) GetByID(_ context.Context, id string) (*push.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, push.ErrDeviceNotFound
	}
	out := d
	return &out, nil
}

func (s *memDeviceStore) ListActiveByUser(_ context.Context, userID urn.URN) ([]push.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []push.Device
	for _, d := range s.devices {
		if d.IsActive && d.UserID.String() == userID.String() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDeviceStore) ListAllActive(_ context.Context) ([]push.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []push.Device
	for _, d := range s.devices {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDeviceStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return push.ErrDeviceNotFound
	}
	d.IsActive = false
	s.devices[id] = d
	return nil
}

func (s *memDeviceStore) Counts(_ context.Context) (push.DeviceCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := push.DeviceCounts{ByPlatform: make(map[push.Platform]int)}
	for _, d := range s.devices {
		counts.Total++
		if d.IsActive {
			counts.Active++
			counts.ByPlatform[d.Platform]++
		}
	}
	return counts, nil
}

type memRecordStore struct {
	mu      sync.Mutex
	records []push.Record
}

func (s *memRecordStore) Insert(_ context.Context, r *push.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *r)
	return nil
}

func (s *memRecordStore) CountByStatusSince(_ context.Context, since time.Time) (push.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts push.StatusCounts
	for _, r := range s.records {
		if !r.CreatedAt.Before(since) {
			counts.Observe(r.Status)
		}
	}
	return counts, nil
}

func (s *memRecordStore) MarkDelivered(context.Context, string, time.Time) error { return nil }
func (s *memRecordStore) MarkClicked(context.Context, string, time.Time) error   { return nil }

type memTemplateStore struct {
	templates map[string]push.Template
}

func (s memTemplateStore) GetByName(_ context.Context, name string) (*push.Template, error) {
	t, ok := s.templates[name]
	if !ok {
		return nil, push.ErrTemplateNotFound
	}
	return &t, nil
}

func (s memTemplateStore) Create(context.Context, *push.Template) error { return nil }

// --- Harness ---

type harness struct {
	mux     *http.ServeMux
	devices *memDeviceStore
	records *memRecordStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	providers, err := provider.NewRegistry(
		noop.New(push.ProviderNoop, logger),
		noop.New(push.ProviderFCM, logger),
		noop.New(push.ProviderAPNS, logger),
		noop.New(push.ProviderWebPush, logger),
	)
	require.NoError(t, err)
	router := provider.NewRouter(nil)

	deviceStore := newMemDeviceStore()
	recordStore := &memRecordStore{}
	templateStore := memTemplateStore{templates: map[string]push.Template{
		"rent_due": {
			Name: "rent_due", Title: "Rent due",
			Body: "Rent of {{amount}} is due", Priority: push.PriorityHigh, IsActive: true,
		},
	}}

	registry := device.NewRegistry(deviceStore, router, providers, time.Second, logger)
	renderer := template.NewRenderer(templateStore, logger)
	engine := dispatch.NewEngine(deviceStore, recordStore, renderer, providers, router, time.Second, logger)
	reporter := stats.NewReporter(recordStore, deviceStore, logger)

	deviceAPI := api.NewDeviceAPI(registry, logger)
	dispatchAPI := api.NewDispatchAPI(engine, logger)
	statsAPI := api.NewStatsAPI(reporter, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/devices", deviceAPI.RegisterDevice)
	mux.HandleFunc("GET /api/v1/devices", deviceAPI.ListDevices)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", deviceAPI.UnregisterDevice)
	mux.HandleFunc("POST /api/v1/send", dispatchAPI.Send)
	mux.HandleFunc("POST /api/v1/send/template", dispatchAPI.SendTemplated)
	mux.HandleFunc("POST /api/v1/broadcast", dispatchAPI.Broadcast)
	mux.HandleFunc("GET /api/v1/stats", statsAPI.Stats)

	return &harness{mux: mux, devices: deviceStore, records: recordStore}
}

func (h *harness) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req = req.WithContext(middleware.ContextWithUser(req.Context(), user, user, ""))
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

const userAlice = "urn:sm:user:alice"
const userBob = "urn:sm:user:bob"

// --- Tests ---

func TestDeviceAPI_Register(t *testing.T) {
	t.Run("Success returns the redacted device", func(t *testing.T) {
		h := newHarness(t)

		w := h.do(t, "POST", "/api/v1/devices", userAlice, map[string]interface{}{
			"platform": "android",
			"token":    "a-very-long-android-token",
			"metadata": map[string]string{"device_name": "Pixel 9"},
		})

		require.Equal(t, http.StatusCreated, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, push.DeviceID("a-very-long-android-token"), resp["id"])
		assert.Equal(t, "a-very-l...", resp["token"], "raw token must not be echoed")
		assert.Equal(t, "fcm", resp["provider"])
	})

	t.Run("Missing token", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{"platform": "ios"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("No identity", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, "POST", "/api/v1/devices", "", map[string]string{"platform": "ios", "token": "x"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Malformed body", func(t *testing.T) {
		h := newHarness(t)
		req := httptest.NewRequest("POST", "/api/v1/devices", bytes.NewReader([]byte("{not json")))
		req = req.WithContext(middleware.ContextWithUser(req.Context(), userAlice, userAlice, ""))
		w := httptest.NewRecorder()
		h.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeviceAPI_ListAndUnregister(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{
		"platform": "ios", "token": "alice-iphone-token",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	deviceID := push.DeviceID("alice-iphone-token")

	t.Run("List shows the caller's devices only", func(t *testing.T) {
		w := h.do(t, "GET", "/api/v1/devices", userAlice, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Devices []map[string]interface{} `json:"devices"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Devices, 1)

		w = h.do(t, "GET", "/api/v1/devices", userBob, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Devices)
	})

	t.Run("Foreign unregister is forbidden", func(t *testing.T) {
		w := h.do(t, "DELETE", "/api/v1/devices/"+deviceID, userBob, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Owner unregister succeeds", func(t *testing.T) {
		w := h.do(t, "DELETE", "/api/v1/devices/"+deviceID, userAlice, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = h.do(t, "GET", "/api/v1/devices", userAlice, nil)
		var resp struct {
			Devices []map[string]interface{} `json:"devices"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Devices)
	})

	t.Run("Unknown device is 404", func(t *testing.T) {
		w := h.do(t, "DELETE", "/api/v1/devices/no-such-id", userAlice, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDispatchAPI_Send(t *testing.T) {
	t.Run("Fan-out result", func(t *testing.T) {
		h := newHarness(t)
		h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{"platform": "ios", "token": "t-ios"})
		h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{"platform": "web", "token": "t-web"})

		w := h.do(t, "POST", "/api/v1/send", userAlice, map[string]string{
			"title": "Hello", "body": "World",
		})

		require.Equal(t, http.StatusOK, w.Code)
		var result dispatch.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, 2, result.Sent)
		assert.Zero(t, result.Failed)
	})

	t.Run("No devices is 404", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, "POST", "/api/v1/send", userAlice, map[string]string{"title": "Hello", "body": "World"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Invalid message is 400", func(t *testing.T) {
		h := newHarness(t)
		h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{"platform": "ios", "token": "t-ios"})
		w := h.do(t, "POST", "/api/v1/send", userAlice, map[string]string{"title": "no body"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDispatchAPI_SendTemplated(t *testing.T) {
	h := newHarness(t)
	h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{"platform": "android", "token": "t-android"})

	t.Run("Renders and dispatches", func(t *testing.T) {
		w := h.do(t, "POST", "/api/v1/send/template", userAlice, map[string]interface{}{
			"template":  "rent_due",
			"variables": map[string]string{"amount": "$950"},
		})
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Unknown template is 404", func(t *testing.T) {
		w := h.do(t, "POST", "/api/v1/send/template", userAlice, map[string]string{"template": "ghost"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Missing template name is 400", func(t *testing.T) {
		w := h.do(t, "POST", "/api/v1/send/template", userAlice, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDispatchAPI_Broadcast(t *testing.T) {
	h := newHarness(t)
	h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{"platform": "ios", "token": "t1"})
	h.do(t, "POST", "/api/v1/devices", userBob, map[string]string{"platform": "web", "token": "t2"})

	w := h.do(t, "POST", "/api/v1/broadcast", userAlice, map[string]string{
		"title": "Notice", "body": "Lobby painting on Monday",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var result dispatch.BroadcastResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.TotalDevices)
	assert.Equal(t, 2, result.Sent)
}

func TestStatsAPI(t *testing.T) {
	h := newHarness(t)
	h.do(t, "POST", "/api/v1/devices", userAlice, map[string]string{"platform": "ios", "token": "t1"})
	h.do(t, "POST", "/api/v1/send", userAlice, map[string]string{"title": "Hi", "body": "There"})

	w := h.do(t, "GET", "/api/v1/stats?window_days=7", userAlice, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var report stats.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 7, report.WindowDays)
	assert.Equal(t, 1, report.Notifications.Sent)
	assert.Equal(t, 1, report.Devices.Active)
}
