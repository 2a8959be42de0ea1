// internal/fulfillment/domain/port/supplier.go
package port

import (
	"context"

	"dropship/internal/fulfillment/domain"
)

// PlaceResult 供应商下单的结果
type PlaceResult struct {
	OK              bool
	SupplierOrderID string
	Code            string // 供应商返回的结果码
	Message         string // 供应商返回的诊断消息
}

// SupplierStatusResult 供应商订单状态查询结果，
// 发货后会附带承运商和运单号。
type SupplierStatusResult struct {
	Status         domain.SupplierStatus
	Carrier        string
	TrackingNumber string
}

// TrackingInfo 供应商侧的物流信息
type TrackingInfo struct {
	Carrier        string
	TrackingNumber string
}

// BatchResult 批量下单时的单个订单结果
type BatchResult struct {
	OrderID string
	Result  *PlaceResult
	Err     error
}

// SupplierForwarder 是供应商的出站端口，每个供应商一个实现。
type SupplierForwarder interface {
	// Code 返回供应商编码，例如 "ownerclan"。
	Code() string

	// PlaceOrder 为一组商品行向供应商下单。
	// 非成功结果码映射为带供应商原始消息的结果，不抛裸异常。
	PlaceOrder(ctx context.Context, order *domain.Order, items []domain.OrderItem) (*PlaceResult, error)

	// CheckOrderStatus 查询供应商订单状态。
	CheckOrderStatus(ctx context.Context, supplierOrderID string) (*SupplierStatusResult, error)

	// CancelOrder 请求供应商取消订单。
	CancelOrder(ctx context.Context, supplierOrderID, reason string) (bool, error)

	// GetTrackingInfo 获取运单信息，供应商尚未发货时返回 nil。
	GetTrackingInfo(ctx context.Context, supplierOrderID string) (*TrackingInfo, error)

	// ProcessBatchOrders 批量下单：固定大小分批、批内并发、批间停顿，
	// 单个订单失败不影响同批其他订单，结果按订单ID聚合返回。
	ProcessBatchOrders(ctx context.Context, orders []*domain.Order) map[string]BatchResult
}
