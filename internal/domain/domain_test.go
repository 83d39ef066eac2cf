package domain_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

func TestOrderStatus_Transitions(t *testing.T) {
	assert.True(t, domain.OrderPendingPayment.CanTransition(domain.OrderPaid))
	assert.True(t, domain.OrderPendingPayment.CanTransition(domain.OrderCancelled))
	assert.False(t, domain.OrderPendingPayment.CanTransition(domain.OrderFulfilled))
	assert.False(t, domain.OrderCancelled.CanTransition(domain.OrderPendingPayment))
	for _, to := range []domain.OrderStatus{domain.OrderPendingPayment, domain.OrderPaid, domain.OrderFulfilled, domain.OrderRefunded} {
		assert.False(t, domain.OrderCancelled.CanTransition(to), to)
		assert.False(t, domain.OrderRefunded.CanTransition(to), to)
	}
	assert.True(t, domain.OrderPaid.CanTransition(domain.OrderRefunded))
}

func TestTotals_NeverNegative(t *testing.T) {
	d := decimal.RequireFromString
	assert.True(t, domain.Totals(d("10"), d("25"), d("2"), d("1")).Equal(decimal.Zero))
	assert.True(t, domain.Totals(d("100.50"), d("10"), d("4.99"), d("7.25")).Equal(d("102.74")))
}

func TestSortKeys(t *testing.T) {
	keys := []domain.StockKey{{VariantID: 2, WarehouseID: 1}, {VariantID: 1, WarehouseID: 3}, {VariantID: 1, WarehouseID: 2}}
	domain.SortKeys(keys)
	assert.Equal(t, []domain.StockKey{{VariantID: 1, WarehouseID: 2}, {VariantID: 1, WarehouseID: 3}, {VariantID: 2, WarehouseID: 1}}, keys)
}

func TestInsufficientStockError(t *testing.T) {
	err := error(&domain.InsufficientStockError{Items: []domain.Shortage{{VariantID: 7, Requested: 5, Available: 2}}})
	wrapped := errors.Join(errors.New("place order"), err)

	ise, ok := domain.IsInsufficientStock(wrapped)
	require.True(t, ok)
	assert.Equal(t, int64(7), ise.Items[0].VariantID)
	assert.Contains(t, err.Error(), "variant 7: available 2, requested 5")
}

func TestTransitionError_Unwraps(t *testing.T) {
	err := &domain.TransitionError{OrderID: 1, From: domain.OrderCancelled, To: domain.OrderPaid}
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}
