package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medclaims/claims/internal/config"
	"github.com/medclaims/claims/internal/domain/order"
	"github.com/medclaims/claims/internal/domain/reimbursement"
	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/db"
)

// emptyRepo is an order store with no orders.
type emptyRepo struct{}

func (emptyRepo) Create(context.Context, *order.Order) error { return nil }
func (emptyRepo) GetByID(context.Context, int64) (*order.Order, error) {
	return nil, order.ErrNotFound
}
func (emptyRepo) List(context.Context, order.ListFilter, int, int) ([]*order.Order, int, error) {
	return nil, 0, nil
}
func (emptyRepo) ListAll(context.Context, order.ListFilter) ([]*order.Order, error) { return nil, nil }
func (emptyRepo) Update(context.Context, *order.Order, order.Status, int) error {
	return order.ErrConcurrentUpdate
}
func (emptyRepo) OrderNoExists(context.Context, string) (bool, error)      { return false, nil }
func (emptyRepo) SettlementNoExists(context.Context, string) (bool, error) { return false, nil }
func (emptyRepo) Statistics(context.Context, *time.Time, *time.Time) ([]order.StatusTotals, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:            "development",
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		RequestTimeout: 5 * time.Second,
		BodyLimit:      "1K",
	}
}

func testServer(cfg *config.Config) http.Handler {
	lookup := reimbursement.NewFallbackLookup(nil, decimal.NewFromInt(1000), decimal.RequireFromString("0.8"), zerolog.Nop())
	svc := order.NewService(emptyRepo{}, lookup, zerolog.Nop())
	return newServer(cfg, zerolog.Nop(), order.NewHandler(svc))
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "migrate": false, "number": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected subcommand %q", name)
		}
	}

	migrate, _, err := root.Find([]string{"migrate", "status"})
	if err != nil || migrate.Name() != "status" {
		t.Errorf("expected migrate status command, got %v (%v)", migrate, err)
	}
}

func TestNumberCmd_RejectsUnknownKind(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"number", "invoice"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Error("expected error for unknown number kind")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_medical_order.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_reimbursement_level.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied    2024-05-01 12:00:00") {
		t.Errorf("expected applied row, got:\n%s", out)
	}
	if !strings.Contains(out, "002_reimbursement_level.sql") || !strings.Contains(out, "pending") {
		t.Errorf("expected pending row, got:\n%s", out)
	}
}

func TestServer_Health(t *testing.T) {
	srv := testServer(testConfig())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestServer_OrderNotFound(t *testing.T) {
	srv := testServer(testConfig())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/42", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_DevRolesEnforced(t *testing.T) {
	srv := testServer(testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/1/complete", nil)
	req.Header.Set(auth.DevRolesHeader, auth.RoleClerk)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for clerk completing, got %d", rec.Code)
	}
}

func TestServer_JWTRequiredOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = strings.Repeat("s", 32)
	srv := testServer(cfg)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
}

func TestServer_BodyLimit(t *testing.T) {
	srv := testServer(testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(strings.Repeat("x", 4096)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}
