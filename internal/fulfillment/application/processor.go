// internal/fulfillment/application/processor.go
package application

import (
	"context"
	"fmt"
	"time"

	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
)

// SupplierResolver 决定一个订单归属哪个供应商
type SupplierResolver interface {
	ResolveOrder(order *domain.Order) string
}

// Alerter 告警出站端口，实现方是 kafka 生产者。
// 告警是尽力而为的，方法不返回错误。
type Alerter interface {
	Alert(ctx context.Context, severity, source, orderID, message string)
	PublishStats(ctx context.Context, jobName string, stats interface{})
}

// Processor 是履约编排的核心：摄取、转发、同步、取消四个操作
// 都在这里实现，每个操作都可以安全重跑。
type Processor struct {
	repo       domain.OrderRepository
	adapters   map[string]port.MarketplaceAdapter
	forwarders map[string]port.SupplierForwarder
	trackers   port.TrackerManager
	resolver   SupplierResolver
	alerter    Alerter
	lookback   time.Duration
	// 同一个订单连续转发失败达到该次数时升级成 critical 告警
	failThreshold int
	tracer        trace.Tracer
}

func NewProcessor(
	repo domain.OrderRepository,
	trackers port.TrackerManager,
	resolver SupplierResolver,
	alerter Alerter,
	lookback time.Duration,
	failThreshold int,
) *Processor {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &Processor{
		repo:          repo,
		adapters:      make(map[string]port.MarketplaceAdapter),
		forwarders:    make(map[string]port.SupplierForwarder),
		trackers:      trackers,
		resolver:      resolver,
		alerter:       alerter,
		lookback:      lookback,
		failThreshold: failThreshold,
		tracer:        otel.Tracer("fulfillment.processor"),
	}
}

// RegisterAdapter 注册一个渠道适配器
func (p *Processor) RegisterAdapter(a port.MarketplaceAdapter) {
	p.adapters[a.Code()] = a
}

// RegisterForwarder 注册一个供应商
func (p *Processor) RegisterForwarder(f port.SupplierForwarder) {
	p.forwarders[f.Code()] = f
}

// ProcessNewOrders 摄取各渠道的新订单并转发给供应商。
// 渠道之间、供应商之间互相隔离：一家挂了不影响其他家。
// 重跑安全：去重键保证不重复落库，Forwarded 检查保证不重复下单。
func (p *Processor) ProcessNewOrders(ctx context.Context) *JobStats {
	ctx, span := p.tracer.Start(ctx, "processor.ProcessNewOrders")
	defer span.End()

	stats := NewJobStats("process_new_orders")

	tasks := make([]Task, 0, len(p.adapters))
	for _, adapter := range p.adapters {
		adapter := adapter
		tasks = append(tasks, Task{
			Name: adapter.Code(),
			Run: func(ctx context.Context) error {
				return p.ingestChannel(ctx, adapter, stats)
			},
		})
	}
	for _, r := range RunAll(ctx, 0, tasks) {
		if r.Err != nil {
			stats.AddError(fmt.Sprintf("%s: %v", r.Name, r.Err))
			p.alerter.Alert(ctx, alertSeverity(r.Err), r.Name, "", fmt.Sprintf("channel ingest failed: %v", r.Err))
		}
	}

	p.forwardPending(ctx, stats)

	stats.Finish()
	snapshot := stats.Snapshot()
	span.SetAttributes(
		attribute.Int("fetched", snapshot.Fetched),
		attribute.Int("processed", snapshot.Processed),
		attribute.Int("failed", snapshot.Failed),
	)
	return stats
}

// ingestChannel 摄取单个渠道：窗口校验、去重、转换、落库
func (p *Processor) ingestChannel(ctx context.Context, adapter port.MarketplaceAdapter, stats *JobStats) error {
	logger := zlog.Ctx(ctx).With().Str("marketplace", adapter.Code()).Logger()

	end := time.Now()
	start := end.Add(-p.lookback)
	// 回看窗口不能超过渠道的单次查询上限
	if maxw := adapter.MaxWindow(); p.lookback > maxw {
		start = end.Add(-maxw)
	}

	raws, err := adapter.FetchOrders(ctx, start, end, "")
	if err != nil {
		return err
	}
	stats.AddFetched(len(raws))
	logger.Info().Int("count", len(raws)).Msg("fetched raw orders")

	for _, raw := range raws {
		exists, err := p.repo.Exists(ctx, adapter.Code(), raw.MarketplaceOrderID)
		if err != nil {
			stats.AddError(fmt.Sprintf("%s/%s: exists check: %v", adapter.Code(), raw.MarketplaceOrderID, err))
			continue
		}
		if exists {
			stats.AddSkipped(1)
			continue
		}

		order, err := adapter.TransformOrder(&raw)
		if err != nil {
			// 畸形订单跳过并记录，不能让它卡住整个渠道
			stats.AddError(fmt.Sprintf("%s/%s: transform: %v", adapter.Code(), raw.MarketplaceOrderID, err))
			logger.Warn().Err(err).Str("marketplace_order_id", raw.MarketplaceOrderID).Msg("transform failed")
			continue
		}

		if err := p.repo.Insert(ctx, order); err != nil {
			if err == domain.ErrDuplicateOrder {
				// 并发写方先插入了同一个去重键，仍然视为幂等跳过
				stats.AddSkipped(1)
				continue
			}
			stats.AddError(fmt.Sprintf("%s/%s: insert: %v", adapter.Code(), raw.MarketplaceOrderID, err))
			continue
		}
		stats.AddProcessed(1)
		logger.Info().Str("order_id", order.ID).Msg("order ingested")
	}
	return nil
}

// forwardPending 把所有未转发的可转发订单按供应商分组批量下单。
// 摄取必须先于转发完成，所以放在同一个作业里串行执行。
func (p *Processor) forwardPending(ctx context.Context, stats *JobStats) {
	notForwarded := false
	orders, err := p.repo.Find(ctx, domain.OrderQuery{
		StatusNotIn: []domain.OrderStatus{
			domain.OrderStatusDelivered,
			domain.OrderStatusCancelled,
			domain.OrderStatusRefunded,
			domain.OrderStatusExchanged,
		},
		Forwarded: &notForwarded,
		OrderBy:   "order_date",
	})
	if err != nil {
		stats.AddError(fmt.Sprintf("find unforwarded: %v", err))
		return
	}
	if len(orders) == 0 {
		return
	}

	bySupplier := make(map[string][]*domain.Order)
	for _, o := range orders {
		code := p.resolver.ResolveOrder(o)
		bySupplier[code] = append(bySupplier[code], o)
	}

	tasks := make([]Task, 0, len(bySupplier))
	for supplierCode, group := range bySupplier {
		supplierCode, group := supplierCode, group
		tasks = append(tasks, Task{
			Name: supplierCode,
			Run: func(ctx context.Context) error {
				return p.forwardGroup(ctx, supplierCode, group, stats)
			},
		})
	}
	for _, r := range RunAll(ctx, 0, tasks) {
		if r.Err != nil {
			stats.AddError(fmt.Sprintf("supplier %s: %v", r.Name, r.Err))
			p.alerter.Alert(ctx, alertSeverity(r.Err), r.Name, "", fmt.Sprintf("supplier forwarding failed: %v", r.Err))
		}
	}
}

// alertSeverity 瞬时故障下个周期自己会好，告警降级为 warning；
// 其他失败需要人看
func alertSeverity(err error) string {
	if domain.IsTransient(err) {
		return "warning"
	}
	return "critical"
}

func (p *Processor) forwardGroup(ctx context.Context, supplierCode string, orders []*domain.Order, stats *JobStats) error {
	forwarder, ok := p.forwarders[supplierCode]
	if !ok {
		return fmt.Errorf("%w: supplier %s", domain.ErrAdapterNotRegistered, supplierCode)
	}
	logger := zlog.Ctx(ctx).With().Str("supplier", supplierCode).Logger()

	results := forwarder.ProcessBatchOrders(ctx, orders)
	for _, order := range orders {
		res, ok := results[order.ID]
		if !ok {
			continue
		}
		switch {
		case res.Err != nil:
			order.MarkForwardFailed(res.Err.Error())
			p.persistForwardFailure(ctx, supplierCode, order, stats)
		case !res.Result.OK:
			// 供应商拒单，保留供应商的原始诊断消息
			order.MarkForwardFailed(fmt.Sprintf("supplier rejected [%s]: %s", res.Result.Code, res.Result.Message))
			p.persistForwardFailure(ctx, supplierCode, order, stats)
			p.alerter.Alert(ctx, "warning", supplierCode, order.ID,
				fmt.Sprintf("supplier rejected order: [%s] %s", res.Result.Code, res.Result.Message))
		default:
			order.MarkForwarded(supplierCode, res.Result.SupplierOrderID, time.Now())
			if err := p.repo.UpdateFields(ctx, order.ID, map[string]interface{}{
				"supplier_code":       order.SupplierCode,
				"supplier_order_id":   order.SupplierOrderID,
				"supplier_status":     string(order.SupplierStatus),
				"supplier_ordered_at": order.SupplierOrderedAt,
				"last_error":          "",
			}); err != nil {
				stats.AddError(fmt.Sprintf("%s: persist forward result: %v", order.ID, err))
				continue
			}
			stats.AddProcessed(1)
			logger.Info().Str("order_id", order.ID).
				Str("supplier_order_id", order.SupplierOrderID).
				Msg("order forwarded to supplier")

			p.acknowledgeChannel(ctx, order)
		}
	}
	return nil
}

func (p *Processor) persistForwardFailure(ctx context.Context, supplierCode string, order *domain.Order, stats *JobStats) {
	stats.AddError(fmt.Sprintf("%s: %s", order.ID, order.LastError))
	// 订单保持未转发状态，下个周期自动重试
	if err := p.repo.UpdateFields(ctx, order.ID, map[string]interface{}{
		"last_error":       order.LastError,
		"forward_attempts": order.ForwardAttempts,
	}); err != nil {
		zlog.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to persist forward error")
	}
	// 连续失败太多次说明自动重试救不回来了，升级给人工
	if order.ForwardAttempts == p.failThreshold {
		p.alerter.Alert(ctx, "critical", supplierCode, order.ID,
			fmt.Sprintf("order failed forwarding %d times: %s", order.ForwardAttempts, order.LastError))
	}
}

// acknowledgeChannel 转发成功后向渠道确认订单并推进本地状态
func (p *Processor) acknowledgeChannel(ctx context.Context, order *domain.Order) {
	adapter, ok := p.adapters[order.Marketplace]
	if !ok || !order.Status.CanTransitionTo(domain.OrderStatusConfirmed) {
		return
	}
	acked, err := adapter.UpdateOrderStatus(ctx, order.MarketplaceOrderID, domain.OrderStatusConfirmed)
	if err != nil {
		zlog.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("channel acknowledgement failed")
		return
	}
	if !acked {
		return
	}
	if err := order.TransitionTo(domain.OrderStatusConfirmed); err != nil {
		return
	}
	if err := p.repo.UpdateFields(ctx, order.ID, map[string]interface{}{
		"status": string(order.Status),
	}); err != nil {
		zlog.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to persist status")
	}
}

// SyncOrderStatus 对所有非终态订单做一轮状态对账：
// 渠道侧重新拉取明细推进订单状态，供应商侧查询推进供应商子状态。
// 只写发生变化的列，避免覆盖并发写方的改动。
func (p *Processor) SyncOrderStatus(ctx context.Context) *JobStats {
	ctx, span := p.tracer.Start(ctx, "processor.SyncOrderStatus")
	defer span.End()

	stats := NewJobStats("sync_order_status")

	orders, err := p.repo.Find(ctx, domain.OrderQuery{
		StatusNotIn: []domain.OrderStatus{
			domain.OrderStatusDelivered,
			domain.OrderStatusCancelled,
			domain.OrderStatusRefunded,
			domain.OrderStatusExchanged,
		},
		OrderBy: "order_date",
	})
	if err != nil {
		stats.AddError(fmt.Sprintf("find non-terminal: %v", err))
		stats.Finish()
		return stats
	}
	stats.AddFetched(len(orders))

	byMarketplace := make(map[string][]*domain.Order)
	for _, o := range orders {
		byMarketplace[o.Marketplace] = append(byMarketplace[o.Marketplace], o)
	}

	tasks := make([]Task, 0, len(byMarketplace))
	for code, group := range byMarketplace {
		code, group := code, group
		tasks = append(tasks, Task{
			Name: code,
			Run: func(ctx context.Context) error {
				adapter, ok := p.adapters[code]
				if !ok {
					return fmt.Errorf("%w: marketplace %s", domain.ErrAdapterNotRegistered, code)
				}
				for _, order := range group {
					if err := p.syncOne(ctx, adapter, order); err != nil {
						stats.AddError(fmt.Sprintf("%s: %v", order.ID, err))
						continue
					}
					stats.AddProcessed(1)
				}
				return nil
			},
		})
	}
	for _, r := range RunAll(ctx, 0, tasks) {
		if r.Err != nil {
			stats.AddError(fmt.Sprintf("%s: %v", r.Name, r.Err))
		}
	}

	stats.Finish()
	return stats
}

// syncOne 对单个订单做渠道侧和供应商侧的状态对账
func (p *Processor) syncOne(ctx context.Context, adapter port.MarketplaceAdapter, order *domain.Order) error {
	fields := make(map[string]interface{})

	raw, err := adapter.FetchOrderDetail(ctx, order.MarketplaceOrderID)
	if err != nil {
		return err
	}
	if raw != nil {
		remote, err := adapter.TransformOrder(raw)
		if err != nil {
			return err
		}
		// 渠道侧状态只在状态机允许时推进
		if remote.Status != order.Status && order.Status.CanTransitionTo(remote.Status) {
			if err := order.TransitionTo(remote.Status); err == nil {
				fields["status"] = string(order.Status)
			}
		}
		// 收件人信息允许渠道侧修正
		if remote.Customer.Address != "" && remote.Customer.Address != order.Customer.Address {
			fields["customer_address"] = remote.Customer.Address
			fields["customer_postal_code"] = remote.Customer.PostalCode
		}
		if remote.Customer.Phone != "" && remote.Customer.Phone != order.Customer.Phone {
			fields["customer_phone"] = remote.Customer.Phone
		}
	}

	// 供应商侧子状态
	if order.Forwarded() {
		if forwarder, ok := p.forwarders[order.SupplierCode]; ok {
			res, err := forwarder.CheckOrderStatus(ctx, order.SupplierOrderID)
			if err != nil {
				zlog.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("supplier status check failed")
			} else if res != nil {
				if err := order.UpdateSupplierStatus(res.Status); err == nil {
					fields["supplier_status"] = string(order.SupplierStatus)
				}
				if res.TrackingNumber != "" && order.Delivery.TrackingNumber == "" {
					order.SetTracking(res.Carrier, res.TrackingNumber)
					fields["delivery_carrier"] = res.Carrier
					fields["tracking_number"] = res.TrackingNumber
				}
				// 供应商发货推动订单进入已发货
				if res.Status == domain.SupplierStatusShipped && order.Status.CanTransitionTo(domain.OrderStatusShipped) {
					if err := order.TransitionTo(domain.OrderStatusShipped); err == nil {
						fields["status"] = string(order.Status)
					}
				}
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return p.repo.UpdateFields(ctx, order.ID, fields)
}

// trackingHorizon 轨迹轮询的回看上限，下单超过这个时长的订单不再查物流
const trackingHorizon = 90 * 24 * time.Hour

// UpdateTrackingInfo 物流更新作业：
// 先把供应商回传的运单号补齐并回写渠道，再批量轮询承运商推进配送子状态。
// 必须在转发完成（有供应商订单号）之后才会碰一个订单。
func (p *Processor) UpdateTrackingInfo(ctx context.Context) *JobStats {
	ctx, span := p.tracer.Start(ctx, "processor.UpdateTrackingInfo")
	defer span.End()

	stats := NewJobStats("update_tracking_info")

	forwarded := true
	orderedAfter := time.Now().Add(-trackingHorizon).Unix()
	orders, err := p.repo.Find(ctx, domain.OrderQuery{
		StatusNotIn: []domain.OrderStatus{
			domain.OrderStatusDelivered,
			domain.OrderStatusCancelled,
			domain.OrderStatusRefunded,
			domain.OrderStatusExchanged,
		},
		Forwarded: &forwarded,
		// 配送已收尾或太老的订单不再进轮询
		DeliveryIn: []domain.DeliveryStatus{
			domain.DeliveryStatusPending,
			domain.DeliveryStatusPickup,
			domain.DeliveryStatusInTransit,
			domain.DeliveryStatusOutForDelivery,
		},
		OrderedAfter: &orderedAfter,
	})
	if err != nil {
		stats.AddError(fmt.Sprintf("find forwarded: %v", err))
		stats.Finish()
		return stats
	}
	stats.AddFetched(len(orders))

	var pending []port.PendingShipment
	index := make(map[string]*domain.Order, len(orders))
	for _, order := range orders {
		index[order.ID] = order

		if order.Delivery.TrackingNumber == "" {
			p.fillTracking(ctx, order, stats)
		}
		if order.Delivery.TrackingNumber != "" && !order.Delivery.Status.IsFinal() {
			pending = append(pending, port.PendingShipment{
				OrderID:        order.ID,
				Carrier:        order.Delivery.Carrier,
				TrackingNumber: order.Delivery.TrackingNumber,
			})
		}
	}

	for _, res := range p.trackers.TrackAll(ctx, pending) {
		order := index[res.OrderID]
		if order == nil {
			continue
		}
		if res.Err != nil {
			stats.AddError(fmt.Sprintf("%s: track: %v", order.ID, res.Err))
			continue
		}
		if res.Snapshot == nil {
			// 承运商暂时没有数据，下个周期再查
			stats.AddSkipped(1)
			continue
		}
		if err := p.applySnapshot(ctx, order, res.Snapshot); err != nil {
			stats.AddError(fmt.Sprintf("%s: apply snapshot: %v", order.ID, err))
			continue
		}
		stats.AddProcessed(1)
	}

	stats.Finish()
	return stats
}

// fillTracking 向供应商要运单号，拿到后回写渠道
func (p *Processor) fillTracking(ctx context.Context, order *domain.Order, stats *JobStats) {
	forwarder, ok := p.forwarders[order.SupplierCode]
	if !ok {
		return
	}
	info, err := forwarder.GetTrackingInfo(ctx, order.SupplierOrderID)
	if err != nil {
		stats.AddError(fmt.Sprintf("%s: tracking info: %v", order.ID, err))
		return
	}
	if info == nil {
		// 供应商还没发货
		return
	}

	order.SetTracking(info.Carrier, info.TrackingNumber)
	if err := p.repo.UpdateFields(ctx, order.ID, map[string]interface{}{
		"delivery_carrier": info.Carrier,
		"tracking_number":  info.TrackingNumber,
	}); err != nil {
		stats.AddError(fmt.Sprintf("%s: persist tracking: %v", order.ID, err))
		return
	}

	// 把运单号回传渠道，失败不致命，渠道下个周期还能补
	if adapter, ok := p.adapters[order.Marketplace]; ok {
		if _, err := adapter.UpdateTrackingInfo(ctx, order.MarketplaceOrderID, info.Carrier, info.TrackingNumber); err != nil {
			zlog.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("tracking relay to channel failed")
		}
	}
}

// applySnapshot 把承运商快照套到订单上，子状态单调推进
func (p *Processor) applySnapshot(ctx context.Context, order *domain.Order, snap *port.TrackingSnapshot) error {
	if !order.ApplyDeliveryStatus(snap.Status, snap.UpdatedAt) {
		// 旧状态回放，忽略
		return nil
	}

	fields := map[string]interface{}{
		"delivery_status":     string(order.Delivery.Status),
		"delivery_updated_at": snap.UpdatedAt,
	}
	// 签收推动订单进入终态
	if snap.Status == domain.DeliveryStatusDelivered && order.Status.CanTransitionTo(domain.OrderStatusDelivered) {
		if err := order.TransitionTo(domain.OrderStatusDelivered); err == nil {
			fields["status"] = string(order.Status)
		}
	}
	if err := p.repo.UpdateFields(ctx, order.ID, fields); err != nil {
		return err
	}

	// 轨迹历史尽力而为地补全
	events, err := p.trackers.TrackingHistory(ctx, snap.Carrier, snap.TrackingNumber)
	if err == nil && len(events) > 0 {
		if err := p.repo.SaveDeliveryEvents(ctx, order.ID, events); err != nil {
			zlog.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("failed to save delivery events")
		}
	}
	return nil
}

// ProcessCancellations 把渠道侧已取消、但供应商还没取消的订单
// 推到供应商取消，并记录结果。
func (p *Processor) ProcessCancellations(ctx context.Context) *JobStats {
	ctx, span := p.tracer.Start(ctx, "processor.ProcessCancellations")
	defer span.End()

	stats := NewJobStats("process_cancellations")

	forwarded := true
	orders, err := p.repo.Find(ctx, domain.OrderQuery{
		StatusIn:  []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusRefunded, domain.OrderStatusExchanged},
		Forwarded: &forwarded,
	})
	if err != nil {
		stats.AddError(fmt.Sprintf("find cancelled: %v", err))
		stats.Finish()
		return stats
	}

	for _, order := range orders {
		// 供应商侧已经取消/发货的不再动
		if !order.SupplierStatus.CanTransitionTo(domain.SupplierStatusCancelled) {
			stats.AddSkipped(1)
			continue
		}
		stats.AddFetched(1)

		forwarder, ok := p.forwarders[order.SupplierCode]
		if !ok {
			stats.AddError(fmt.Sprintf("%s: supplier %s not registered", order.ID, order.SupplierCode))
			continue
		}

		cancelled, err := forwarder.CancelOrder(ctx, order.SupplierOrderID, "marketplace cancellation")
		if err != nil {
			stats.AddError(fmt.Sprintf("%s: cancel: %v", order.ID, err))
			if uerr := p.repo.UpdateFields(ctx, order.ID, map[string]interface{}{
				"last_error": err.Error(),
			}); uerr != nil {
				zlog.Ctx(ctx).Error().Err(uerr).Str("order_id", order.ID).Msg("failed to persist cancel error")
			}
			continue
		}
		if !cancelled {
			// 供应商拒绝取消（多半已经发货），告警人工介入
			stats.AddError(fmt.Sprintf("%s: supplier refused cancellation", order.ID))
			p.alerter.Alert(ctx, "critical", order.SupplierCode, order.ID, "supplier refused cancellation")
			continue
		}

		if err := order.UpdateSupplierStatus(domain.SupplierStatusCancelled); err != nil {
			stats.AddError(fmt.Sprintf("%s: %v", order.ID, err))
			continue
		}
		if err := p.repo.UpdateFields(ctx, order.ID, map[string]interface{}{
			"supplier_status": string(order.SupplierStatus),
			"last_error":      "",
		}); err != nil {
			stats.AddError(fmt.Sprintf("%s: persist cancel: %v", order.ID, err))
			continue
		}
		stats.AddProcessed(1)
	}

	stats.Finish()
	return stats
}
