package services_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/repos"
	"storefront/internal/services"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stack struct {
	db      *sqlx.DB
	clock   *clock
	logs    *observer.ObservedLogs
	catalog *repos.CatalogRepo
	inv     *repos.InventoryRepo
	ledger  *services.Ledger
	stock   *services.InventoryService
	orders  *services.OrderService
	carts   *services.CartService
	sweeper *services.Sweeper
	bus     *events.Bus
	relay   *events.Relay
	inbox   *services.PaymentInbox
}

func memStack(t *testing.T) *stack {
	return newStack(t, ":memory:")
}

// fileStack uses a real file so several connections can race.
func fileStack(t *testing.T) *stack {
	return newStack(t, filepath.Join(t.TempDir(), "storefront.db"))
}

func newStack(t *testing.T, dsn string) *stack {
	t.Helper()
	s, err := buildStack(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.db.Close() })
	return s
}

func buildStack(dsn string) (*stack, error) {
	db, err := repos.OpenDB("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	retry := services.Retrier{Attempts: 8, Initial: 5 * time.Millisecond, Log: log}

	catalog := repos.NewCatalogRepo(db)
	inv := repos.NewInventoryRepo(db)
	outbox := repos.NewOutboxRepo(db)

	ledger := services.NewLedger(db, inv, catalog, retry, log)
	ledger.Now = clk.Now
	store := services.NewReservationStore(repos.NewReservationRepo(db), inv, ledger)
	stock := services.NewInventoryService(db, services.NewAvailability(inv), store, ledger, catalog, outbox,
		services.DefaultWarehouse{ID: domain.DefaultWarehouseID}, retry, log)
	stock.Now = clk.Now
	orders := services.NewOrderService(db, repos.NewCartRepo(db), repos.NewOrderRepo(db), catalog, outbox, stock,
		services.FlatRate{Shipping: decimal.RequireFromString("5.00"), TaxRate: decimal.RequireFromString("0.10")},
		retry, log, 30*time.Minute)
	orders.Now = clk.Now
	carts := services.NewCartService(db, repos.NewCartRepo(db), catalog)
	carts.Now = clk.Now

	bus := events.NewBus(log)
	bus.Attempts, bus.Initial = 1, time.Millisecond
	services.Subscribe(bus, orders, stock, log)
	relay := events.NewRelay(outbox, "local", bus, time.Second, log)
	relay.Now = clk.Now

	return &stack{
		db: db, clock: clk, logs: logs, catalog: catalog, inv: inv, ledger: ledger,
		stock: stock, orders: orders, carts: carts, sweeper: services.NewSweeper(stock, time.Minute, log),
		bus: bus, relay: relay, inbox: services.NewPaymentInbox(db, outbox, log),
	}, nil
}

// warehouse adds a second stock location.
func (s *stack) warehouse(t *testing.T, code string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.db.Get(&id, `INSERT INTO warehouses(code, name) VALUES (?, ?) RETURNING id`, code, code))
	return id
}

// variant creates a catalog entry with qty on hand in the default warehouse.
func (s *stack) variant(t *testing.T, sku string, price string, qty, safety int) int64 {
	t.Helper()
	ctx := context.Background()
	pid, err := s.catalog.CreateProduct(ctx, s.db, "Product "+sku)
	require.NoError(t, err)
	vid, err := s.catalog.CreateVariant(ctx, s.db, pid, sku, decimal.RequireFromString(price), "USD")
	require.NoError(t, err)
	key := domain.StockKey{VariantID: vid, WarehouseID: domain.DefaultWarehouseID}
	if qty > 0 {
		_, err = s.ledger.SetQuantity(ctx, key, qty, domain.ReasonInitialStock)
		require.NoError(t, err)
	}
	if safety > 0 {
		require.NoError(t, s.ledger.SetSafetyStock(ctx, key, safety))
	}
	return vid
}

func (s *stack) available(t *testing.T, variantID int64) int {
	t.Helper()
	res, err := s.stock.CheckAvailability(context.Background(), map[int64]int{variantID: 0}, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0].AvailableQty
}

func (s *stack) item(t *testing.T, variantID int64) domain.StockItem {
	t.Helper()
	it, err := s.inv.Get(context.Background(), s.db, domain.StockKey{VariantID: variantID, WarehouseID: domain.DefaultWarehouseID})
	require.NoError(t, err)
	return it
}

func (s *stack) reconciled(t *testing.T) {
	t.Helper()
	mm, err := s.ledger.Reconcile(context.Background())
	require.NoError(t, err)
	require.Empty(t, mm)
}

// drain relays every pending outbox event through the bus handlers.
func (s *stack) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10; i++ {
		n, err := s.relay.PollOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("outbox did not drain")
}
