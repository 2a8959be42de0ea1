// internal/fulfillment/infrastructure/persistence/gorm_repository.go
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dropship/internal/fulfillment/domain"
)

// mysqlDuplicateEntry 是 MySQL 唯一键冲突的错误码
const mysqlDuplicateEntry = 1062

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// OpenMySQL 建立 MySQL 连接并迁移表结构
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect mysql: %w", err)
	}
	if err := db.AutoMigrate(&OrderModel{}, &OrderItemModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// Insert 创建新订单和它的商品行。
// 去重键 (marketplace, marketplace_order_id) 冲突时返回 ErrDuplicateOrder，
// 调用方据此实现幂等摄取。
func (r *GormOrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	model := ToOrderModel(order)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	return nil
}

// FindByID 根据内部ID查找订单
func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return ToDomainOrder(&model), nil
}

// Exists 判断去重键是否已存在
func (r *GormOrderRepository) Exists(ctx context.Context, marketplace, marketplaceOrderID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("marketplace = ? AND marketplace_order_id = ?", marketplace, marketplaceOrderID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Find 按条件查询订单，零值条件不参与过滤
func (r *GormOrderRepository) Find(ctx context.Context, q domain.OrderQuery) ([]*domain.Order, error) {
	tx := r.db.WithContext(ctx).Model(&OrderModel{}).Preload("Items")

	if q.Marketplace != "" {
		tx = tx.Where("marketplace = ?", q.Marketplace)
	}
	if len(q.StatusIn) > 0 {
		tx = tx.Where("status IN ?", statusStrings(q.StatusIn))
	}
	if len(q.StatusNotIn) > 0 {
		tx = tx.Where("status NOT IN ?", statusStrings(q.StatusNotIn))
	}
	if q.Forwarded != nil {
		if *q.Forwarded {
			tx = tx.Where("supplier_order_id <> ''")
		} else {
			tx = tx.Where("supplier_order_id = ''")
		}
	}
	if len(q.DeliveryIn) > 0 {
		vals := make([]string, 0, len(q.DeliveryIn))
		for _, s := range q.DeliveryIn {
			vals = append(vals, string(s))
		}
		tx = tx.Where("delivery_status IN ?", vals)
	}
	if q.OrderedAfter != nil {
		tx = tx.Where("order_date >= ?", time.Unix(*q.OrderedAfter, 0))
	}
	if q.OrderBy != "" {
		tx = tx.Order(q.OrderBy)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var models []OrderModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders, nil
}

// UpdateFields 字段级局部更新。
// 状态同步和物流更新是并发的写方，各自只提交自己改动的列，
// 用 map 走 GORM 的 Updates，避免整行 Save 互相覆盖。
func (r *GormOrderRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// SaveDeliveryEvents 覆盖写入订单的轨迹历史
func (r *GormOrderRepository) SaveDeliveryEvents(ctx context.Context, id string, events []domain.TrackingEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal tracking events: %w", err)
	}
	return r.UpdateFields(ctx, id, map[string]interface{}{"delivery_events": data})
}

func statusStrings(in []domain.OrderStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}
