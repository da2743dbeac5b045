package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/table-reservation/internal/booking"
	"github.com/iliyamo/table-reservation/internal/calendar"
	"github.com/iliyamo/table-reservation/internal/config"
	"github.com/iliyamo/table-reservation/internal/handler"
	"github.com/iliyamo/table-reservation/internal/ledger"
	"github.com/iliyamo/table-reservation/internal/repository"
	"github.com/iliyamo/table-reservation/internal/utils"
)

const adminPassword = "correct horse"

func newTestServer(t *testing.T, checks map[string]handler.Check) *echo.Echo {
	t.Helper()
	cal, err := calendar.New(calendar.Config{
		SlotMinutes:     30,
		OpenHour:        11,
		CloseHour:       22,
		CapacityPerSlot: 24,
		MinPartySize:    1,
		MaxPartySize:    20,
		BlackoutDates:   map[string]struct{}{"2024-12-25": {}},
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	svc := booking.NewService(cal,
		ledger.NewMemory(cal.CapacityFor, time.Second),
		repository.NewMemoryReservationRepo(),
		booking.WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
	)
	hash, err := utils.HashPassword(adminPassword, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := config.Config{
		JWTSecret:         "test-secret",
		AccessTTLMin:      5,
		AdminEmail:        "admin@example.com",
		AdminPasswordHash: hash,
	}

	e := echo.New()
	RegisterRoutes(e, Deps{
		Health:       handler.NewHealthHandler(checks),
		Reservations: handler.NewReservationHandler(svc, nil),
		Admin:        handler.NewAdminHandler(svc, nil),
		Auth:         handler.NewAuthHandler(cfg),
		JWTSecret:    cfg.JWTSecret,
		RateLimit:    config.RateLimitConfig{Enabled: false},
		Cache:        config.CacheConfig{Enabled: false},
	})
	return e
}

func do(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	decode(t, rec, &body)
	return body.Error
}

func booking19(size int) string {
	return `{"date":"2024-06-01","time":"19:10","party_size":` + strconv.Itoa(size) + `,"name":"Ada","email":"ada@example.com"}`
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, map[string]handler.Check{
		"store": func(context.Context) error { return nil },
	})
	if rec := do(e, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := newTestServer(t, map[string]handler.Check{
		"ledger": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := do(down, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCalendarEndpoint(t *testing.T) {
	e := newTestServer(t, nil)
	rec := do(e, http.MethodGet, "/v1/calendar?date=2024-06-01", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Closed bool     `json:"closed"`
		Slots  []string `json:"slots"`
	}
	decode(t, rec, &body)
	if body.Closed || len(body.Slots) != 22 || body.Slots[21] != "21:30" {
		t.Fatalf("unexpected calendar %+v", body)
	}

	rec = do(e, http.MethodGet, "/v1/calendar?date=2024-12-25", "", "")
	decode(t, rec, &body)
	if !body.Closed || len(body.Slots) != 0 {
		t.Fatalf("expected closed day, got %+v", body)
	}

	if rec := do(e, http.MethodGet, "/v1/calendar?date=June", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReservationLifecycle(t *testing.T) {
	e := newTestServer(t, nil)

	rec := do(e, http.MethodPost, "/v1/reservations", booking19(10), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Slot   string `json:"slot"`
		Status string `json:"status"`
	}
	decode(t, rec, &created)
	if created.Slot != "19:00" || created.Status != "confirmed" {
		t.Fatalf("unexpected reservation %+v", created)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/v1/reservations/"+created.ID {
		t.Fatalf("unexpected Location %q", loc)
	}

	rec = do(e, http.MethodGet, "/v1/availability?date=2024-06-01", "", "")
	var av struct {
		Slots []struct {
			Time      string `json:"time"`
			Remaining int    `json:"remaining"`
		} `json:"slots"`
	}
	decode(t, rec, &av)
	found := false
	for _, s := range av.Slots {
		if s.Time == "19:00" {
			found = true
			if s.Remaining != 14 {
				t.Fatalf("expected 14 remaining, got %d", s.Remaining)
			}
		}
	}
	if !found {
		t.Fatalf("19:00 missing from availability")
	}

	rec = do(e, http.MethodPost, "/v1/reservations", booking19(15), "")
	if rec.Code != http.StatusConflict || errorKind(t, rec) != "capacity_exceeded" {
		t.Fatalf("expected 409 capacity_exceeded, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(e, http.MethodGet, "/v1/reservations/"+created.ID, "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, "/v1/reservations/"+created.ID, "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on cancel, got %d", rec.Code)
	}
	rec = do(e, http.MethodDelete, "/v1/reservations/"+created.ID, "", "")
	if rec.Code != http.StatusConflict || errorKind(t, rec) != "already_cancelled" {
		t.Fatalf("expected 409 already_cancelled, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateReservationErrors(t *testing.T) {
	e := newTestServer(t, nil)
	cases := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"bad json", `{"date":`, http.StatusBadRequest, "invalid_input"},
		{"party size", `{"date":"2024-06-01","time":"19:00","party_size":0,"name":"Ada","email":"ada@example.com"}`, http.StatusBadRequest, "invalid_party_size"},
		{"time format", `{"date":"2024-06-01","time":"7pm","party_size":2,"name":"Ada","email":"ada@example.com"}`, http.StatusBadRequest, "invalid_time_format"},
		{"blackout", `{"date":"2024-12-25","time":"19:00","party_size":2,"name":"Ada","email":"ada@example.com"}`, http.StatusUnprocessableEntity, "date_not_bookable"},
		{"closed hour", `{"date":"2024-06-01","time":"23:15","party_size":2,"name":"Ada","email":"ada@example.com"}`, http.StatusUnprocessableEntity, "slot_not_offered"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/v1/reservations", tc.body, "")
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if k := errorKind(t, rec); k != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, k)
			}
		})
	}

	rec := do(e, http.MethodGet, "/v1/reservations/0b5f7c1e-8d7a-4c55-9e0e-3b1c6f7a9d20", "", "")
	if rec.Code != http.StatusNotFound || errorKind(t, rec) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d", rec.Code)
	}
}

func login(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec := do(e, http.MethodPost, "/v1/auth/login", `{"email":"Admin@Example.com","password":"`+adminPassword+`"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Access struct {
			Token string `json:"token"`
		} `json:"access"`
	}
	decode(t, rec, &body)
	return body.Access.Token
}

func TestAdminEndpoints(t *testing.T) {
	e := newTestServer(t, nil)

	if rec := do(e, http.MethodGet, "/v1/admin/reservations", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/auth/login", `{"email":"admin@example.com","password":"wrong"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
	token := login(t, e)

	rec := do(e, http.MethodPost, "/v1/reservations", booking19(4), "")
	var created struct {
		ID string `json:"id"`
	}
	decode(t, rec, &created)

	rec = do(e, http.MethodGet, "/v1/admin/reservations?date=2024-06-01&status=confirmed", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 reservation, got %d", list.Count)
	}

	if rec := do(e, http.MethodGet, "/v1/admin/reservations?status=pending", "", token); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/v1/admin/reconcile?date=2024-06-01&fix=true", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from reconcile, got %d", rec.Code)
	}
	var report booking.Report
	decode(t, rec, &report)
	if len(report.Discrepancies) != 0 || !report.Fixed || report.Checked != 22 {
		t.Fatalf("unexpected report %+v", report)
	}
	if rec := do(e, http.MethodPost, "/v1/admin/reconcile?date=2024-06-01&fix=maybe", "", token); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad fix flag, got %d", rec.Code)
	}

	if rec := do(e, http.MethodDelete, "/v1/admin/reservations/"+created.ID, "", token); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from admin cancel, got %d", rec.Code)
	}
}
