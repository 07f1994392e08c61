package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/platform/auth"
)

func newTestServer(t *testing.T) (*echo.Echo, *mockServiceRepo) {
	t.Helper()
	cat, err := NewCatalogFrom(sampleLocations())
	if err != nil {
		t.Fatal(err)
	}
	repo := newMockServiceRepo()
	e := echo.New()
	NewHandler(cat, NewServiceCatalog(repo)).RegisterRoutes(e.Group("/api/v1"))
	return e, repo
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ListLocations(t *testing.T) {
	e, _ := newTestServer(t)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations?city=Bengaluru&tier=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
	var body listLocationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || body.Count != 2 || len(body.Data) != 2 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_ListLocations_ByteIdentical(t *testing.T) {
	e, _ := newTestServer(t)
	first := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations?tier=1", nil)).Body.String()
	for i := 0; i < 5; i++ {
		if got := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations?tier=1", nil)).Body.String(); got != first {
			t.Fatalf("response %d differs:\n%s\n%s", i, first, got)
		}
	}
}

func TestHandler_ListLocations_ETag(t *testing.T) {
	e, _ := newTestServer(t)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil))
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag")
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil)
	req.Header.Set("If-None-Match", etag)
	if rec := serve(e, req); rec.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", rec.Code)
	}
}

func TestHandler_ListLocations_InvalidTier(t *testing.T) {
	e, _ := newTestServer(t)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations?tier=5", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetLocation(t *testing.T) {
	e, _ := newTestServer(t)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations/00000000-0000-0000-0000-000000000001", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Andheri") {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations/"+uuid.NewString(), nil)); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/locations/not-a-uuid", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Services(t *testing.T) {
	e, repo := newTestServer(t)
	svc := &Service{Name: "Physiotherapy", Category: "therapy", DurationMinutes: 45, HomeVisitAvailable: true}
	_ = repo.Create(context.Background(), svc)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/services?mode=home_visit", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Physiotherapy") {
		t.Errorf("unexpected list response %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/services/"+svc.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/services/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CreateService_RequiresSuperAdmin(t *testing.T) {
	e, _ := newTestServer(t)
	body := `{"name":"Dental Cleaning","category":"dental","durationMinutes":30,"tier1Price":"1200","tier2Price":"900","offlineAvailable":true}`

	post := func(role *auth.Role) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if role != nil {
			req = req.WithContext(auth.WithCaller(req.Context(), &auth.Caller{UserID: uuid.New(), Role: *role}))
		}
		return serve(e, req)
	}

	if rec := post(nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: expected 401, got %d", rec.Code)
	}
	doctor := auth.Doctor
	if rec := post(&doctor); rec.Code != http.StatusForbidden {
		t.Errorf("doctor: expected 403, got %d", rec.Code)
	}
	admin := auth.SuperAdmin
	rec := post(&admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("super admin: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"tier2Price":"900"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CreateService_ActiveByDefault(t *testing.T) {
	e, repo := newTestServer(t)
	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req = req.WithContext(auth.WithCaller(req.Context(), &auth.Caller{UserID: uuid.New(), Role: auth.SuperAdmin}))
		return serve(e, req)
	}

	rec := post(`{"name":"Eye Checkup","category":"ophthalmology","durationMinutes":30,"tier1Price":"800","tier2Price":"600","offlineAvailable":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data Service `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Data.Active || !repo.store[resp.Data.ID].Active {
		t.Error("a service created without an active flag must be active")
	}

	rec = post(`{"name":"Retired Test","category":"diagnostics","durationMinutes":15,"tier1Price":"100","tier2Price":"80","offlineAvailable":true,"active":false}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Active {
		t.Error("an explicit active=false must be kept")
	}
}
