package handlers

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"storefront/internal/config"
	"storefront/internal/repos"
	"storefront/internal/services"
)

// Deps holds the wired services and the handlers built on them. Background
// workers (sweeper, relay) reach the same service instances through it.
type Deps struct {
	Inventory *services.InventoryService
	Ledger    *services.Ledger
	Orders    *services.OrderService
	Carts     *services.CartService
	Sweeper   *services.Sweeper
	Outbox    *repos.OutboxRepo
	// Payments stores webhook and broker payment signals in the outbox.
	Payments *services.PaymentInbox

	HealthHandler      *HealthHandler
	InventoryHandler   *InventoryHandler
	ReservationHandler *ReservationHandler
	CartHandler        *CartHandler
	OrderHandler       *OrderHandler
	PaymentHandler     *PaymentHandler
	AdminHandler       *AdminHandler
}

// NewDeps builds repos and services over db.
func NewDeps(db *sqlx.DB, cfg config.Config, log *zap.Logger) *Deps {
	catalog := repos.NewCatalogRepo(db)
	invRepo := repos.NewInventoryRepo(db)
	cartRepo := repos.NewCartRepo(db)
	orderRepo := repos.NewOrderRepo(db)
	outbox := repos.NewOutboxRepo(db)

	retry := services.Retrier{Attempts: cfg.RetryAttempts, Initial: cfg.RetryInitialInterval, Log: log}
	ledger := services.NewLedger(db, invRepo, catalog, retry, log)
	store := services.NewReservationStore(repos.NewReservationRepo(db), invRepo, ledger)
	invSvc := services.NewInventoryService(db, services.NewAvailability(invRepo), store, ledger, catalog, outbox,
		services.DefaultWarehouse{ID: cfg.DefaultWarehouseID}, retry, log)
	pricing := services.FlatRate{Shipping: cfg.ShippingFlatRate, TaxRate: cfg.TaxRate}
	orderSvc := services.NewOrderService(db, cartRepo, orderRepo, catalog, outbox, invSvc, pricing, retry, log, cfg.OrderReservationTTL)
	cartSvc := services.NewCartService(db, cartRepo, catalog)
	sweeper := services.NewSweeper(invSvc, cfg.SweepInterval, log)
	payments := services.NewPaymentInbox(db, outbox, log)

	return &Deps{
		Inventory: invSvc,
		Ledger:    ledger,
		Orders:    orderSvc,
		Carts:     cartSvc,
		Sweeper:   sweeper,
		Outbox:    outbox,
		Payments:  payments,

		HealthHandler:    &HealthHandler{DB: db},
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		ReservationHandler: &ReservationHandler{
			Inv:     invSvc,
			Cart:    cartSvc,
			Orders:  orderSvc,
			MaxHold: cfg.CartReservationTTL,
		},
		CartHandler:    &CartHandler{Cart: cartSvc},
		OrderHandler:   &OrderHandler{Cart: cartSvc, Order: orderSvc},
		PaymentHandler: &PaymentHandler{Signals: payments},
		AdminHandler: &AdminHandler{
			Ledger:    ledger,
			Orders:    orderSvc,
			Sweeper:   sweeper,
			Warehouse: cfg.DefaultWarehouseID,
		},
	}
}
