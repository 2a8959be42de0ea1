// internal/fulfillment/infrastructure/routing/dynamic.go
package routing

import (
	"sync/atomic"

	"dropship/internal/fulfillment/domain"
)

// DynamicResolver 支持运行时热替换规则集的路由器。
// 配置中心推送新的规则后整体换入，换入是原子的，跑单路径无锁读。
type DynamicResolver struct {
	current atomic.Pointer[CELResolver]
}

func NewDynamicResolver(initial *CELResolver) *DynamicResolver {
	d := &DynamicResolver{}
	d.current.Store(initial)
	return d
}

// Swap 换入一套新编译好的规则
func (d *DynamicResolver) Swap(r *CELResolver) {
	d.current.Store(r)
}

// Resolve 为一个商品行求值出供应商编码
func (d *DynamicResolver) Resolve(order *domain.Order, item domain.OrderItem) string {
	return d.current.Load().Resolve(order, item)
}

// ResolveOrder 订单级路由
func (d *DynamicResolver) ResolveOrder(order *domain.Order) string {
	return d.current.Load().ResolveOrder(order)
}
