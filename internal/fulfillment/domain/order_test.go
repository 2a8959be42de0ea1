package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func mustItem(t *testing.T, qty int, unit, total float64) OrderItem {
	t.Helper()
	item, err := NewOrderItem("i1", "p1", "mp1", "sp1", "item", qty, d(unit), d(total), decimal.Zero)
	require.NoError(t, err)
	return *item
}

func TestNewOrderItemPriceInvariant(t *testing.T) {
	tests := []struct {
		name  string
		qty   int
		unit  float64
		total float64
		ok    bool
	}{
		{"exact", 2, 10000, 20000, true},
		{"within tolerance", 3, 3333.33, 9999.99, true},
		{"mismatch rejected", 2, 10000, 21000, false},
		{"off by more than a cent", 1, 100, 100.02, false},
		{"zero quantity", 0, 100, 0, false},
		{"negative quantity", -1, 100, -100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrderItem("i1", "p1", "mp1", "sp1", "item", tt.qty, d(tt.unit), d(tt.total), decimal.Zero)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.True(t, IsValidation(err))
			}
		})
	}
}

func TestNewOrderDerivesIDAndTotal(t *testing.T) {
	// raw 订单 {id: 123456, items:[{qty:2, price:10000}]} 的转换场景
	items := []OrderItem{mustItem(t, 2, 10000, 20000)}
	raw := json.RawMessage(`{"id":123456}`)

	order, err := NewOrder("CP", "coupang", "123456", time.Now(), OrderStatusPending, items, CustomerInfo{Name: "tester"}, PaymentInfo{}, raw)
	require.NoError(t, err)

	assert.Equal(t, "CP123456", order.ID)
	assert.Equal(t, "coupang", order.Marketplace)
	assert.True(t, order.TotalAmount.Equal(d(20000)))
	assert.Equal(t, "coupang:123456", order.DedupKey())
	assert.Equal(t, SupplierStatusPending, order.SupplierStatus)
	assert.False(t, order.Forwarded())
}

func TestNewOrderRejectsEmptyItems(t *testing.T) {
	_, err := NewOrder("CP", "coupang", "1", time.Now(), OrderStatusPending, nil, CustomerInfo{}, PaymentInfo{}, nil)
	assert.True(t, IsValidation(err))
}

func TestOrderTransitionMonotonic(t *testing.T) {
	items := []OrderItem{mustItem(t, 1, 100, 100)}
	order, err := NewOrder("CP", "coupang", "1", time.Now(), OrderStatusPending, items, CustomerInfo{}, PaymentInfo{}, nil)
	require.NoError(t, err)

	require.NoError(t, order.TransitionTo(OrderStatusConfirmed))
	require.NoError(t, order.TransitionTo(OrderStatusShipped))
	require.NoError(t, order.TransitionTo(OrderStatusDelivered))

	// 终态之后任何流转都被拒绝
	err = order.TransitionTo(OrderStatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, OrderStatusDelivered, order.Status)
}

func TestMarkForwardedIsIdempotentGuard(t *testing.T) {
	items := []OrderItem{mustItem(t, 1, 100, 100)}
	order, _ := NewOrder("CP", "coupang", "1", time.Now(), OrderStatusPending, items, CustomerInfo{}, PaymentInfo{}, nil)

	order.MarkForwardFailed("supplier unreachable")
	assert.Equal(t, "supplier unreachable", order.LastError)
	assert.False(t, order.Forwarded())

	order.MarkForwarded("ownerclan", "OC-777", time.Now())
	assert.True(t, order.Forwarded())
	assert.Empty(t, order.LastError)
	assert.Equal(t, SupplierStatusOrdered, order.SupplierStatus)
}

func TestApplyDeliveryStatusIgnoresStaleUpdates(t *testing.T) {
	items := []OrderItem{mustItem(t, 1, 100, 100)}
	order, _ := NewOrder("CP", "coupang", "1", time.Now(), OrderStatusPending, items, CustomerInfo{}, PaymentInfo{}, nil)

	assert.True(t, order.ApplyDeliveryStatus(DeliveryStatusInTransit, time.Now()))
	// 承运商页面回放旧状态时直接忽略
	assert.False(t, order.ApplyDeliveryStatus(DeliveryStatusPickup, time.Now()))
	assert.Equal(t, DeliveryStatusInTransit, order.Delivery.Status)

	assert.True(t, order.ApplyDeliveryStatus(DeliveryStatusDelivered, time.Now()))
	assert.False(t, order.ApplyDeliveryStatus(DeliveryStatusInTransit, time.Now()))
}
