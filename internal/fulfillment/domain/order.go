// internal/fulfillment/domain/order.go
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// priceTolerance 是单项金额校验允许的舍入误差
var priceTolerance = decimal.NewFromFloat(0.01)

// Order 是订单聚合的根实体，所有渠道的原始订单最终都转换成它。
// (Marketplace, MarketplaceOrderID) 是幂等摄取的去重键。
// 订单一旦落库就是永久台账，只会被原地更新，不会被删除或重建。
type Order struct {
	ID                 string // 渠道编码 + 渠道订单号，例如 "CP123456"
	Marketplace        string // 渠道编码，例如 "coupang"
	MarketplaceOrderID string // 渠道侧订单号
	OrderDate          time.Time
	Status             OrderStatus
	Items              []OrderItem
	Customer           CustomerInfo
	Payment            PaymentInfo
	Delivery           DeliveryInfo
	TotalAmount        decimal.Decimal

	// 转发供应商之前这三个字段为空
	SupplierCode      string
	SupplierOrderID   string
	SupplierStatus    SupplierStatus
	SupplierOrderedAt *time.Time

	// 最近一次转发/同步失败的原因，成功后清空
	LastError string
	// 连续转发失败次数，成功后归零
	ForwardAttempts int

	Raw       json.RawMessage // 渠道原始报文快照
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem 是订单中的一个商品行
type OrderItem struct {
	ID                   string
	ProductID            string // 内部商品ID
	MarketplaceProductID string // 渠道侧商品ID
	SupplierProductID    string // 供应商侧商品ID
	ProductName          string
	Quantity             int
	UnitPrice            decimal.Decimal
	TotalPrice           decimal.Decimal
	Discount             decimal.Decimal
	Status               OrderStatus
}

// CustomerInfo 收件人信息值对象
type CustomerInfo struct {
	Name       string
	Phone      string
	Email      string
	PostalCode string
	Address    string
	Memo       string
}

// PaymentInfo 支付信息值对象
type PaymentInfo struct {
	Method      string
	Amount      decimal.Decimal
	ShippingFee decimal.Decimal
	PaidAt      *time.Time
}

// DeliveryInfo 配送信息值对象，由 Tracker Manager 负责更新。
// 渠道侧订单状态和承运商侧配送子状态各自独立维护，
// 两者的对账由 Processor 显式完成，这里不隐含哪一方为准。
type DeliveryInfo struct {
	Carrier        string // 承运商编码，例如 "cj"
	TrackingNumber string
	Status         DeliveryStatus
	Events         []TrackingEvent // 按时间升序
	UpdatedAt      *time.Time
}

// TrackingEvent 一条物流轨迹
type TrackingEvent struct {
	Time        time.Time
	Status      DeliveryStatus
	RawStatus   string // 承运商原始状态文本
	Location    string
	Description string
}

// NewOrderItem 创建并校验一个商品行。
// 数量必须为正；总价和单价*数量的差值超出舍入容差时直接拒绝。
func NewOrderItem(id, productID, marketplaceProductID, supplierProductID, name string, quantity int, unitPrice, totalPrice, discount decimal.Decimal) (*OrderItem, error) {
	if quantity <= 0 {
		return nil, NewValidationError("quantity", fmt.Sprintf("must be positive, got %d", quantity))
	}
	expected := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	if totalPrice.Sub(expected).Abs().GreaterThan(priceTolerance) {
		return nil, NewValidationError("total_price",
			fmt.Sprintf("%s does not match unit_price %s x %d", totalPrice, unitPrice, quantity))
	}
	return &OrderItem{
		ID:                   id,
		ProductID:            productID,
		MarketplaceProductID: marketplaceProductID,
		SupplierProductID:    supplierProductID,
		ProductName:          name,
		Quantity:             quantity,
		UnitPrice:            unitPrice,
		TotalPrice:           totalPrice,
		Discount:             discount,
		Status:               OrderStatusPending,
	}, nil
}

// NewOrder 工厂函数，从渠道转换结果创建订单聚合。
// 订单ID由渠道编码前缀和渠道订单号确定性拼出，保证同一渠道订单只会生成同一个ID。
func NewOrder(channelPrefix, marketplace, marketplaceOrderID string, orderDate time.Time, status OrderStatus, items []OrderItem, customer CustomerInfo, payment PaymentInfo, raw json.RawMessage) (*Order, error) {
	if marketplace == "" || marketplaceOrderID == "" {
		return nil, NewValidationError("marketplace_order_id", "marketplace and order id are required")
	}
	if len(items) == 0 {
		return nil, NewValidationError("items", "order must contain at least one item")
	}
	if !status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	total := decimal.Zero
	for i := range items {
		total = total.Add(items[i].TotalPrice)
	}

	now := time.Now()
	return &Order{
		ID:                 channelPrefix + marketplaceOrderID,
		Marketplace:        marketplace,
		MarketplaceOrderID: marketplaceOrderID,
		OrderDate:          orderDate,
		Status:             status,
		Items:              items,
		Customer:           customer,
		Payment:            payment,
		Delivery:           DeliveryInfo{Status: DeliveryStatusPending},
		TotalAmount:        total,
		SupplierStatus:     SupplierStatusPending,
		Raw:                raw,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// DedupKey 返回幂等摄取的去重键
func (o *Order) DedupKey() string {
	return o.Marketplace + ":" + o.MarketplaceOrderID
}

// TransitionTo 按状态机流转订单状态，非法流转返回 ErrInvalidTransition
func (o *Order) TransitionTo(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return nil
}

// Forwarded 订单是否已经转发给供应商。
// Processor 在转发前必须先检查它，保证重复执行不会重复下单。
func (o *Order) Forwarded() bool {
	return o.SupplierOrderID != ""
}

// MarkForwarded 记录供应商下单成功的结果
func (o *Order) MarkForwarded(supplierCode, supplierOrderID string, at time.Time) {
	o.SupplierCode = supplierCode
	o.SupplierOrderID = supplierOrderID
	o.SupplierStatus = SupplierStatusOrdered
	o.SupplierOrderedAt = &at
	o.LastError = ""
	o.ForwardAttempts = 0
	o.UpdatedAt = time.Now()
}

// MarkForwardFailed 记录转发失败，订单留在未转发状态等待下个周期重试
func (o *Order) MarkForwardFailed(reason string) {
	o.LastError = reason
	o.ForwardAttempts++
	o.UpdatedAt = time.Now()
}

// UpdateSupplierStatus 推进供应商子状态，不允许回退
func (o *Order) UpdateSupplierStatus(next SupplierStatus) error {
	if !o.SupplierStatus.CanTransitionTo(next) {
		return fmt.Errorf("%w: supplier %s -> %s", ErrInvalidTransition, o.SupplierStatus, next)
	}
	o.SupplierStatus = next
	o.UpdatedAt = time.Now()
	return nil
}

// SetTracking 记录供应商回传的承运商和运单号
func (o *Order) SetTracking(carrier, trackingNumber string) {
	o.Delivery.Carrier = carrier
	o.Delivery.TrackingNumber = trackingNumber
	o.UpdatedAt = time.Now()
}

// ApplyDeliveryStatus 推进配送子状态，单调不可回退；
// 非法流转（例如承运商页面回放了旧状态）直接忽略并返回 false。
func (o *Order) ApplyDeliveryStatus(next DeliveryStatus, at time.Time) bool {
	if !o.Delivery.Status.CanTransitionTo(next) {
		return false
	}
	o.Delivery.Status = next
	o.Delivery.UpdatedAt = &at
	o.UpdatedAt = time.Now()
	return true
}
