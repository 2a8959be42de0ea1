// internal/fulfillment/domain/port/marketplace.go
package port

import (
	"context"
	"encoding/json"
	"time"

	"dropship/internal/fulfillment/domain"
)

// RawOrder 是渠道返回的一条未经转换的订单报文。
type RawOrder struct {
	MarketplaceOrderID string
	Payload            json.RawMessage
}

// MarketplaceAdapter 是销售渠道的出站端口，每个渠道一个实现。
// 实现各自负责自己的认证方式（签名请求 / API-key / OAuth2）和重试策略。
type MarketplaceAdapter interface {
	// Code 返回渠道编码，例如 "coupang"。
	Code() string

	// IDPrefix 返回订单ID前缀，例如 "CP"。内部订单ID = 前缀 + 渠道订单号。
	IDPrefix() string

	// MaxWindow 返回单次拉单允许的最大时间窗口。
	MaxWindow() time.Duration

	// FetchOrders 拉取窗口内的订单，翻页到尽头。
	// 窗口超过 MaxWindow 时在发起任何网络请求之前返回 ValidationError。
	FetchOrders(ctx context.Context, start, end time.Time, status string) ([]RawOrder, error)

	// FetchOrderDetail 拉取单个订单的最新明细。
	FetchOrderDetail(ctx context.Context, marketplaceOrderID string) (*RawOrder, error)

	// TransformOrder 把渠道原始报文转换为统一订单模型。
	// 纯函数，不发网络请求；上游缺失的可选字段降级为空值，不允许转换崩溃。
	TransformOrder(raw *RawOrder) (*domain.Order, error)

	// UpdateOrderStatus 把状态回写到渠道。
	// 渠道不支持的流转返回 false，不抛错误。
	UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status domain.OrderStatus) (bool, error)

	// UpdateTrackingInfo 把承运商和运单号回写到渠道。
	UpdateTrackingInfo(ctx context.Context, marketplaceOrderID, carrier, trackingNumber string) (bool, error)
}
