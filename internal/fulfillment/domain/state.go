// internal/fulfillment/domain/state.go
package domain

// OrderStatus 定义了订单在本系统内的生命周期状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"   // 已从渠道拉取并落库，尚未确认
	OrderStatusConfirmed OrderStatus = "CONFIRMED" // 已确认，等待备货
	OrderStatusPreparing OrderStatus = "PREPARING" // 供应商备货中
	OrderStatusShipped   OrderStatus = "SHIPPED"   // 已发货，物流在途
	OrderStatusDelivered OrderStatus = "DELIVERED" // 已签收 (终态)
	OrderStatusCancelled OrderStatus = "CANCELLED" // 已取消 (终态)
	OrderStatusRefunded  OrderStatus = "REFUNDED"  // 已退款 (终态)
	OrderStatusExchanged OrderStatus = "EXCHANGED" // 已换货 (终态)
)

// orderTransitions 是订单状态机的转移表。
// 状态只能单向前进，终态不允许再流转。
// CANCELLED/REFUNDED/EXCHANGED 只能从发货前的状态进入。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusPreparing, OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded, OrderStatusExchanged},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded, OrderStatusExchanged},
	OrderStatusPreparing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded, OrderStatusExchanged},
	OrderStatusShipped:   {OrderStatusDelivered},
	// 终态没有出边
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
	OrderStatusRefunded:  {},
	OrderStatusExchanged: {},
}

// IsTerminal 判断是否为终态
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded, OrderStatusExchanged:
		return true
	default:
		return false
	}
}

// CanTransitionTo 判断状态机是否允许 s -> next 的流转
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return false
	}
	for _, t := range orderTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsValid 判断是否为已知状态
func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// SupplierStatus 定义了转发到某个供应商的那部分商品的子状态
type SupplierStatus string

const (
	SupplierStatusPending   SupplierStatus = "PENDING"   // 尚未向供应商下单
	SupplierStatusOrdered   SupplierStatus = "ORDERED"   // 已向供应商提交订单
	SupplierStatusConfirmed SupplierStatus = "CONFIRMED" // 供应商已接单
	SupplierStatusPreparing SupplierStatus = "PREPARING" // 供应商备货中
	SupplierStatusShipped   SupplierStatus = "SHIPPED"   // 供应商已发货
	SupplierStatusDelivered SupplierStatus = "DELIVERED" // 已签收
	SupplierStatusCancelled SupplierStatus = "CANCELLED" // 供应商侧已取消
	SupplierStatusFailed    SupplierStatus = "FAILED"    // 下单失败
)

var supplierRank = map[SupplierStatus]int{
	SupplierStatusPending:   0,
	SupplierStatusOrdered:   1,
	SupplierStatusConfirmed: 2,
	SupplierStatusPreparing: 3,
	SupplierStatusShipped:   4,
	SupplierStatusDelivered: 5,
}

// CanTransitionTo 供应商子状态同样只能前进；CANCELLED/FAILED 只能在发货前进入
func (s SupplierStatus) CanTransitionTo(next SupplierStatus) bool {
	if s == next {
		return false
	}
	if s == SupplierStatusCancelled || s == SupplierStatusFailed || s == SupplierStatusDelivered {
		return false
	}
	if next == SupplierStatusCancelled || next == SupplierStatusFailed {
		return supplierRank[s] < supplierRank[SupplierStatusShipped]
	}
	sr, ok1 := supplierRank[s]
	nr, ok2 := supplierRank[next]
	return ok1 && ok2 && nr > sr
}

// DeliveryStatus 定义了承运商视角的配送子状态。
// 各家承运商的原始状态码先查码表、查不到再按关键词归一化到这个词汇表。
type DeliveryStatus string

const (
	DeliveryStatusPending        DeliveryStatus = "PENDING"          // 运单已创建，货未揽收
	DeliveryStatusPickup         DeliveryStatus = "PICKUP"           // 已揽收
	DeliveryStatusInTransit      DeliveryStatus = "IN_TRANSIT"       // 干线运输中
	DeliveryStatusOutForDelivery DeliveryStatus = "OUT_FOR_DELIVERY" // 派送中
	DeliveryStatusDelivered      DeliveryStatus = "DELIVERED"        // 已签收
	DeliveryStatusFailed         DeliveryStatus = "FAILED"           // 配送失败
	DeliveryStatusReturned       DeliveryStatus = "RETURNED"         // 已退回
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryStatusPending:        0,
	DeliveryStatusPickup:         1,
	DeliveryStatusInTransit:      2,
	DeliveryStatusOutForDelivery: 3,
	DeliveryStatusDelivered:      4,
}

// CanTransitionTo 配送子状态只能前进，FAILED/RETURNED 可以从任何非终止状态进入
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	if s == next {
		return false
	}
	if s == DeliveryStatusDelivered || s == DeliveryStatusFailed || s == DeliveryStatusReturned {
		return false
	}
	if next == DeliveryStatusFailed || next == DeliveryStatusReturned {
		return true
	}
	sr, ok1 := deliveryRank[s]
	nr, ok2 := deliveryRank[next]
	return ok1 && ok2 && nr > sr
}

// IsFinal 配送是否已经到达不再变化的状态
func (s DeliveryStatus) IsFinal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed || s == DeliveryStatusReturned
}
