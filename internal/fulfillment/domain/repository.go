// internal/fulfillment/domain/repository.go
package domain

import "context"

// OrderQuery 是查询订单时的过滤条件，零值字段不参与过滤。
// 这是对文档式存储协作方的窄契约：等值、范围、集合三类谓词加排序。
type OrderQuery struct {
	Marketplace  string        // 等值
	StatusIn     []OrderStatus // 集合
	StatusNotIn  []OrderStatus // 集合取反
	Forwarded    *bool         // 是否已有供应商订单号
	DeliveryIn   []DeliveryStatus
	OrderedAfter *int64 // unix 秒，范围下界
	OrderBy      string // 排序字段，例如 "order_date"
	Limit        int
}

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，由基础设施层的 GORM 仓储实现。
type OrderRepository interface {
	// Insert 创建一个新订单。去重键冲突时返回 ErrDuplicateOrder。
	Insert(ctx context.Context, order *Order) error

	// FindByID 根据内部ID查找订单，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id string) (*Order, error)

	// Exists 判断去重键是否已存在，摄取时用于幂等跳过。
	Exists(ctx context.Context, marketplace, marketplaceOrderID string) (bool, error)

	// Find 按条件查询订单。
	Find(ctx context.Context, q OrderQuery) ([]*Order, error)

	// UpdateFields 对单个订单做字段级局部更新。
	// 并发写方（状态同步、物流更新）只提交各自改动的列，避免整行覆盖互相冲掉。
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error

	// SaveDeliveryEvents 追加/覆盖订单的物流轨迹。
	SaveDeliveryEvents(ctx context.Context, id string, events []TrackingEvent) error
}
