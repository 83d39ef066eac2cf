package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/config"
	"storefront/internal/events"
	"storefront/internal/http/handlers"
	applog "storefront/internal/log"
	"storefront/internal/repos"
	"storefront/internal/services"
)

const (
	adminToken   = "let-me-in"
	webhookToken = "psp-shared-secret"
)

// Seeded variants (see repos.SeedDemo): sellable = quantity - safety.
const (
	gbcTeal  int64 = 1 // 10 on hand, 2 safety
	gbcGrape int64 = 2 // 4 on hand
	snesPad  int64 = 3 // 25 on hand, 5 safety
	n64Exp   int64 = 4 // 3 on hand
)

type testApp struct {
	app   *fiber.App
	db    *sqlx.DB
	deps  *handlers.Deps
	relay *events.Relay
	logs  *observer.ObservedLogs
}

func newApp(t *testing.T) *testApp {
	t.Helper()
	return newAppWith(t, hashOf(t, adminToken), hashOf(t, webhookToken))
}

func hashOf(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

// newAppWith builds the app with the given token hashes; "" turns that
// surface off.
func newAppWith(t *testing.T, adminHash, webhookHash string) *testApp {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	applog.Set(logger)
	t.Cleanup(func() { applog.Set(nil) })

	db, err := repos.OpenDB("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repos.SeedDemo(context.Background(), db, time.Now().UTC()))

	cfg := config.Config{
		DefaultWarehouseID:   1,
		CartReservationTTL:   30 * time.Minute,
		OrderReservationTTL:  30 * time.Minute,
		SweepInterval:        time.Minute,
		RetryAttempts:        3,
		RetryInitialInterval: time.Millisecond,
		ShippingFlatRate:     decimal.RequireFromString("5.00"),
		TaxRate:              decimal.Zero,
	}

	bus := events.NewBus(logger)
	bus.Attempts, bus.Initial = 1, time.Millisecond
	deps := handlers.NewDeps(db, cfg, logger)
	services.Subscribe(bus, deps.Orders, deps.Inventory, logger)

	app := fiber.New(fiber.Config{
		Views:        html.New("../../web/templates", ".html"),
		ErrorHandler: handlers.ErrorHandler,
	})
	app.Use(requestid.New())
	handlers.Routes(app, deps, adminHash, webhookHash)

	return &testApp{
		app:   app,
		db:    db,
		deps:  deps,
		relay: events.NewRelay(deps.Outbox, "local", bus, time.Second, logger),
		logs:  logs,
	}
}

type call struct {
	method string
	path   string
	body   any
	sid    string
	token  string
	// hook is sent as X-Webhook-Token.
	hook string
}

func (a *testApp) do(t *testing.T, c call) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, r)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: c.sid})
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.hook != "" {
		req.Header.Set("X-Webhook-Token", c.hook)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func (a *testApp) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10; i++ {
		n, err := a.relay.PollOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("outbox did not drain")
}
