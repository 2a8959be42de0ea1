// internal/fulfillment/infrastructure/persistence/gorm_model.go
package persistence

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 fulfillment_order 表。
// (marketplace, marketplace_order_id) 上的唯一索引就是幂等摄取的去重键。
type OrderModel struct {
	ID                 string `gorm:"primaryKey;size:64"`
	Marketplace        string `gorm:"size:32;uniqueIndex:uk_marketplace_order,priority:1"`
	MarketplaceOrderID string `gorm:"size:64;uniqueIndex:uk_marketplace_order,priority:2"`
	OrderDate          time.Time
	Status             string          `gorm:"size:16;index"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(18,2)"`

	// 收件人
	CustomerName       string `gorm:"size:64"`
	CustomerPhone      string `gorm:"size:32"`
	CustomerEmail      string `gorm:"size:128"`
	CustomerPostalCode string `gorm:"size:16"`
	CustomerAddress    string `gorm:"size:256"`
	CustomerMemo       string `gorm:"size:256"`

	// 支付
	PaymentMethod      string          `gorm:"size:32"`
	PaymentAmount      decimal.Decimal `gorm:"type:decimal(18,2)"`
	PaymentShippingFee decimal.Decimal `gorm:"type:decimal(18,2)"`
	PaidAt             sql.NullTime

	// 配送（由物流更新任务写入）
	DeliveryCarrier   string `gorm:"size:32"`
	TrackingNumber    string `gorm:"size:64;index"`
	DeliveryStatus    string `gorm:"size:24"`
	DeliveryEvents    []byte `gorm:"type:json"` // 轨迹历史，按时间升序的 JSON 数组
	DeliveryUpdatedAt sql.NullTime

	// 供应商（转发前为空）
	SupplierCode      string `gorm:"size:32"`
	SupplierOrderID   string `gorm:"size:64;index"`
	SupplierStatus    string `gorm:"size:16"`
	SupplierOrderedAt sql.NullTime

	LastError       string `gorm:"size:512"`
	ForwardAttempts int

	Raw       []byte `gorm:"type:json"` // 渠道原始报文快照
	CreatedAt time.Time
	UpdatedAt time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "fulfillment_order"
}

// OrderItemModel 对应数据库中的 fulfillment_order_item 表
type OrderItemModel struct {
	ID                   string `gorm:"primaryKey;size:64"`
	OrderID              string `gorm:"size:64;index"`
	ProductID            string `gorm:"size:64"`
	MarketplaceProductID string `gorm:"size:64"`
	SupplierProductID    string `gorm:"size:64"`
	ProductName          string `gorm:"size:256"`
	Quantity             int
	UnitPrice            decimal.Decimal `gorm:"type:decimal(18,2)"`
	TotalPrice           decimal.Decimal `gorm:"type:decimal(18,2)"`
	Discount             decimal.Decimal `gorm:"type:decimal(18,2)"`
	Status               string          `gorm:"size:16"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OrderItemModel) TableName() string {
	return "fulfillment_order_item"
}
