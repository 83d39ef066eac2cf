package services

import (
	"context"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

type Quote struct {
	Shipping decimal.Decimal
	Tax      decimal.Decimal
}

// Quoter prices shipping and tax for a set of frozen order lines. net is the
// discounted line total.
type Quoter interface {
	Quote(ctx context.Context, currency string, lines []domain.OrderLine, net decimal.Decimal) (Quote, error)
}

// FlatRate charges one shipping fee per order and a proportional tax on net.
type FlatRate struct {
	Shipping decimal.Decimal
	TaxRate  decimal.Decimal
}

func (f FlatRate) Quote(_ context.Context, _ string, lines []domain.OrderLine, net decimal.Decimal) (Quote, error) {
	q := Quote{Shipping: decimal.Zero, Tax: decimal.Zero}
	if len(lines) == 0 {
		return q, nil
	}
	q.Shipping = f.Shipping
	if net.IsPositive() {
		q.Tax = net.Mul(f.TaxRate).Round(2)
	}
	return q, nil
}
