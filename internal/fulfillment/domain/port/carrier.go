// internal/fulfillment/domain/port/carrier.go
package port

import (
	"context"
	"time"

	"dropship/internal/fulfillment/domain"
)

// TrackingSnapshot 是归一化后的运单当前状态。
// 各家承运商的报文格式差别很大（JSON 接口 / 抓取页面 / 签名表单），
// 但都必须归一化到统一的 DeliveryStatus 词汇表。
type TrackingSnapshot struct {
	Carrier        string
	TrackingNumber string
	Status         domain.DeliveryStatus
	RawStatus      string // 承运商原始状态文本
	Location       string
	UpdatedAt      time.Time
}

// PendingShipment 一条等待轮询的在途运单
type PendingShipment struct {
	OrderID        string
	Carrier        string
	TrackingNumber string
}

// TrackResult 批量轮询里单条运单的结果
type TrackResult struct {
	OrderID  string
	Snapshot *TrackingSnapshot
	Err      error
}

// TrackerManager 按承运商编码分发查询的注册表。
// 未注册的承运商不是错误，和查不到数据一样返回 (nil, nil)。
type TrackerManager interface {
	Track(ctx context.Context, carrierCode, trackingNumber string) (*TrackingSnapshot, error)
	TrackingHistory(ctx context.Context, carrierCode, trackingNumber string) ([]domain.TrackingEvent, error)

	// TrackAll 并发轮询一批运单，按承运商隔离失败。
	TrackAll(ctx context.Context, shipments []PendingShipment) []TrackResult
}

// CarrierTracker 是承运商的出站端口，每个承运商一个实现。
// 报文解析失败按"无数据"处理（返回 nil, nil），不允许让轮询崩溃。
type CarrierTracker interface {
	// Code 返回承运商编码，例如 "cj"。
	Code() string

	// Track 查询运单当前状态，查不到数据时返回 (nil, nil)。
	Track(ctx context.Context, trackingNumber string) (*TrackingSnapshot, error)

	// TrackingHistory 查询按时间升序的完整轨迹，查不到时返回空切片。
	TrackingHistory(ctx context.Context, trackingNumber string) ([]domain.TrackingEvent, error)
}
