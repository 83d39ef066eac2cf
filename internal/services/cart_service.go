package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

type CartService struct {
	DB       *sqlx.DB
	Carts    *repos.CartRepo
	Catalog  *repos.CatalogRepo
	Currency string
	Now      func() time.Time
}

func NewCartService(db *sqlx.DB, carts *repos.CartRepo, catalog *repos.CatalogRepo) *CartService {
	return &CartService{DB: db, Carts: carts, Catalog: catalog, Currency: "USD", Now: utcNow}
}

// Add puts qty units of a variant in the session's cart at today's price.
func (s *CartService) Add(ctx context.Context, sessionID string, variantID int64, qty int) (domain.Cart, error) {
	if qty < 1 {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}
	err := repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		now := s.Now()
		v, err := s.Catalog.Variant(ctx, tx, variantID)
		if err != nil {
			return fmt.Errorf("variant %d: %w", variantID, err)
		}
		cart, err := s.Carts.EnsureCart(ctx, tx, sessionID, s.Currency, now)
		if err != nil {
			return err
		}
		return s.Carts.UpsertItem(ctx, tx, cart.ID, v.ID, qty, v.Price, v.Currency, now)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return s.View(ctx, sessionID)
}

// Ensure returns the session's active cart, creating an empty one first.
func (s *CartService) Ensure(ctx context.Context, sessionID string) (domain.Cart, error) {
	var cart domain.Cart
	err := repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		var err error
		cart, err = s.Carts.EnsureCart(ctx, tx, sessionID, s.Currency, s.Now())
		return err
	})
	return cart, err
}

// View returns the session's active cart; a session without one gets an
// empty, unsaved cart.
func (s *CartService) View(ctx context.Context, sessionID string) (domain.Cart, error) {
	cart, err := s.Carts.ActiveBySession(ctx, s.DB, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Cart{SessionID: sessionID, Status: domain.CartActive, Currency: s.Currency, Items: []domain.CartItem{}}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Items, err = s.Carts.Items(ctx, s.DB, cart.ID)
	return cart, err
}
