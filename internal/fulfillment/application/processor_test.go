package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
)

// ---- fakes ----

type fakeRepo struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	inserts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[string]*domain.Order)}
}

func (r *fakeRepo) Insert(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.DedupKey() == order.DedupKey() {
			return domain.ErrDuplicateOrder
		}
	}
	cp := *order
	r.orders[order.ID] = &cp
	r.inserts++
	return nil
}

func (r *fakeRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) Exists(ctx context.Context, marketplace, marketplaceOrderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Marketplace == marketplace && o.MarketplaceOrderID == marketplaceOrderID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) Find(ctx context.Context, q domain.OrderQuery) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if q.Marketplace != "" && o.Marketplace != q.Marketplace {
			continue
		}
		if len(q.StatusIn) > 0 && !containsStatus(q.StatusIn, o.Status) {
			continue
		}
		if len(q.StatusNotIn) > 0 && containsStatus(q.StatusNotIn, o.Status) {
			continue
		}
		if q.Forwarded != nil && o.Forwarded() != *q.Forwarded {
			continue
		}
		if len(q.DeliveryIn) > 0 && !containsDeliveryStatus(q.DeliveryIn, o.Delivery.Status) {
			continue
		}
		if q.OrderedAfter != nil && o.OrderDate.Before(time.Unix(*q.OrderedAfter, 0)) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			o.Status = domain.OrderStatus(v.(string))
		case "supplier_code":
			o.SupplierCode = v.(string)
		case "supplier_order_id":
			o.SupplierOrderID = v.(string)
		case "supplier_status":
			o.SupplierStatus = domain.SupplierStatus(v.(string))
		case "last_error":
			o.LastError = v.(string)
		case "forward_attempts":
			o.ForwardAttempts = v.(int)
		case "delivery_carrier":
			o.Delivery.Carrier = v.(string)
		case "tracking_number":
			o.Delivery.TrackingNumber = v.(string)
		case "delivery_status":
			o.Delivery.Status = domain.DeliveryStatus(v.(string))
		}
	}
	return nil
}

func (r *fakeRepo) SaveDeliveryEvents(ctx context.Context, id string, events []domain.TrackingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		o.Delivery.Events = events
	}
	return nil
}

func containsStatus(set []domain.OrderStatus, s domain.OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsDeliveryStatus(set []domain.DeliveryStatus, s domain.DeliveryStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type fakeAdapter struct {
	code     string
	prefix   string
	orders   map[string]*domain.Order // marketplaceOrderID -> 转换结果
	fetchErr error

	mu           sync.Mutex
	fetchCalls   int
	acked        []string
	trackingSent []string
}

func (a *fakeAdapter) Code() string             { return a.code }
func (a *fakeAdapter) IDPrefix() string         { return a.prefix }
func (a *fakeAdapter) MaxWindow() time.Duration { return 31 * 24 * time.Hour }

func (a *fakeAdapter) FetchOrders(ctx context.Context, start, end time.Time, status string) ([]port.RawOrder, error) {
	a.mu.Lock()
	a.fetchCalls++
	a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	var out []port.RawOrder
	for id := range a.orders {
		out = append(out, port.RawOrder{MarketplaceOrderID: id, Payload: []byte(`{}`)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketplaceOrderID < out[j].MarketplaceOrderID })
	return out, nil
}

func (a *fakeAdapter) FetchOrderDetail(ctx context.Context, marketplaceOrderID string) (*port.RawOrder, error) {
	if _, ok := a.orders[marketplaceOrderID]; !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &port.RawOrder{MarketplaceOrderID: marketplaceOrderID, Payload: []byte(`{}`)}, nil
}

func (a *fakeAdapter) TransformOrder(raw *port.RawOrder) (*domain.Order, error) {
	o, ok := a.orders[raw.MarketplaceOrderID]
	if !ok {
		return nil, domain.NewChannelError(a.code, "UNKNOWN", "no such order")
	}
	cp := *o
	return &cp, nil
}

func (a *fakeAdapter) UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status domain.OrderStatus) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, marketplaceOrderID)
	return true, nil
}

func (a *fakeAdapter) UpdateTrackingInfo(ctx context.Context, marketplaceOrderID, carrier, trackingNumber string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackingSent = append(a.trackingSent, marketplaceOrderID)
	return true, nil
}

type fakeForwarder struct {
	code string

	mu           sync.Mutex
	placed       []string
	rejectID     string // 这个订单被供应商拒单
	refuseCancel bool
	status       *port.SupplierStatusResult
	tracking     *port.TrackingInfo
	cancels      []string
}

func (f *fakeForwarder) Code() string { return f.code }

func (f *fakeForwarder) PlaceOrder(ctx context.Context, order *domain.Order, items []domain.OrderItem) (*port.PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, order.ID)
	if order.ID == f.rejectID {
		return &port.PlaceResult{OK: false, Code: "301", Message: "재고 부족"}, nil
	}
	return &port.PlaceResult{OK: true, SupplierOrderID: "SUP-" + order.ID, Code: "0"}, nil
}

func (f *fakeForwarder) CheckOrderStatus(ctx context.Context, supplierOrderID string) (*port.SupplierStatusResult, error) {
	if f.status == nil {
		return &port.SupplierStatusResult{Status: domain.SupplierStatusConfirmed}, nil
	}
	return f.status, nil
}

func (f *fakeForwarder) CancelOrder(ctx context.Context, supplierOrderID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, supplierOrderID)
	return !f.refuseCancel, nil
}

func (f *fakeForwarder) GetTrackingInfo(ctx context.Context, supplierOrderID string) (*port.TrackingInfo, error) {
	return f.tracking, nil
}

func (f *fakeForwarder) ProcessBatchOrders(ctx context.Context, orders []*domain.Order) map[string]port.BatchResult {
	out := make(map[string]port.BatchResult, len(orders))
	for _, o := range orders {
		res, err := f.PlaceOrder(ctx, o, o.Items)
		out[o.ID] = port.BatchResult{OrderID: o.ID, Result: res, Err: err}
	}
	return out
}

type fakeTrackerManager struct {
	snapshots map[string]*port.TrackingSnapshot // trackingNumber -> snapshot
	polled    []string
}

func (m *fakeTrackerManager) Track(ctx context.Context, carrierCode, trackingNumber string) (*port.TrackingSnapshot, error) {
	return m.snapshots[trackingNumber], nil
}

func (m *fakeTrackerManager) TrackingHistory(ctx context.Context, carrierCode, trackingNumber string) ([]domain.TrackingEvent, error) {
	return nil, nil
}

func (m *fakeTrackerManager) TrackAll(ctx context.Context, shipments []port.PendingShipment) []port.TrackResult {
	var out []port.TrackResult
	for _, s := range shipments {
		m.polled = append(m.polled, s.TrackingNumber)
		out = append(out, port.TrackResult{OrderID: s.OrderID, Snapshot: m.snapshots[s.TrackingNumber]})
	}
	return out
}

type staticResolver struct{ supplier string }

func (s staticResolver) ResolveOrder(order *domain.Order) string { return s.supplier }

type nopAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *nopAlerter) Alert(ctx context.Context, severity, source, orderID, message string) {
	a.mu.Lock()
	a.alerts = append(a.alerts, severity+":"+source)
	a.mu.Unlock()
}
func (a *nopAlerter) PublishStats(ctx context.Context, jobName string, stats interface{}) {}

// ---- helpers ----

func makeOrder(t *testing.T, prefix, marketplace, id string) *domain.Order {
	t.Helper()
	item, err := domain.NewOrderItem(id+"-0", "p1", "mp1", "OC-1", "상품",
		2, decimal.NewFromInt(10000), decimal.NewFromInt(20000), decimal.Zero)
	require.NoError(t, err)
	order, err := domain.NewOrder(prefix, marketplace, id, time.Now().Add(-time.Hour),
		domain.OrderStatusPending, []domain.OrderItem{*item},
		domain.CustomerInfo{Name: "김철수"}, domain.PaymentInfo{}, []byte(`{}`))
	require.NoError(t, err)
	return order
}

func newTestProcessor(repo domain.OrderRepository, trackers port.TrackerManager, alerter Alerter) *Processor {
	return NewProcessor(repo, trackers, staticResolver{supplier: "ownerclan"}, alerter, 24*time.Hour, 0)
}

// ---- tests ----

func TestProcessNewOrdersIdempotent(t *testing.T) {
	repo := newFakeRepo()
	adapter := &fakeAdapter{code: "coupang", prefix: "CP", orders: map[string]*domain.Order{
		"1001": makeOrder(t, "CP", "coupang", "1001"),
		"1002": makeOrder(t, "CP", "coupang", "1002"),
	}}
	forwarder := &fakeForwarder{code: "ownerclan"}

	p := newTestProcessor(repo, &fakeTrackerManager{}, &nopAlerter{})
	p.RegisterAdapter(adapter)
	p.RegisterForwarder(forwarder)

	stats := p.ProcessNewOrders(context.Background()).Snapshot()
	assert.Equal(t, JobStatusSuccess, stats.Status)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, repo.inserts)

	// 第二轮：同样的两单全部幂等跳过，一单不重插、一单不重发
	stats2 := p.ProcessNewOrders(context.Background()).Snapshot()
	assert.Equal(t, 2, stats2.Skipped)
	assert.Equal(t, 2, repo.inserts)
	assert.Len(t, forwarder.placed, 2, "already-forwarded orders must not be re-placed")
}

func TestProcessNewOrdersForwarding(t *testing.T) {
	repo := newFakeRepo()
	adapter := &fakeAdapter{code: "coupang", prefix: "CP", orders: map[string]*domain.Order{
		"1001": makeOrder(t, "CP", "coupang", "1001"),
	}}
	forwarder := &fakeForwarder{code: "ownerclan"}

	p := newTestProcessor(repo, &fakeTrackerManager{}, &nopAlerter{})
	p.RegisterAdapter(adapter)
	p.RegisterForwarder(forwarder)

	p.ProcessNewOrders(context.Background())

	stored, err := repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	assert.Equal(t, "SUP-CP1001", stored.SupplierOrderID)
	assert.Equal(t, domain.SupplierStatusOrdered, stored.SupplierStatus)
	// 转发成功后向渠道确认，订单进入 CONFIRMED
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)
	assert.Contains(t, adapter.acked, "1001")
}

func TestProcessNewOrdersSupplierRejectionRecorded(t *testing.T) {
	repo := newFakeRepo()
	adapter := &fakeAdapter{code: "coupang", prefix: "CP", orders: map[string]*domain.Order{
		"1001": makeOrder(t, "CP", "coupang", "1001"),
	}}
	forwarder := &fakeForwarder{code: "ownerclan", rejectID: "CP1001"}
	alerter := &nopAlerter{}

	p := newTestProcessor(repo, &fakeTrackerManager{}, alerter)
	p.RegisterAdapter(adapter)
	p.RegisterForwarder(forwarder)

	stats := p.ProcessNewOrders(context.Background()).Snapshot()
	assert.Equal(t, JobStatusPartial, stats.Status)

	// 拒单的订单留在未转发状态，错误带着供应商的原始诊断
	stored, err := repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	assert.False(t, stored.Forwarded())
	assert.Contains(t, stored.LastError, "301")
	assert.Contains(t, stored.LastError, "재고 부족")
	assert.NotEmpty(t, alerter.alerts)
	assert.NotContains(t, alerter.alerts, "critical:ownerclan")

	// 连续失败达到阈值后升级为 critical
	p.ProcessNewOrders(context.Background())
	p.ProcessNewOrders(context.Background())
	stored, err = repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ForwardAttempts)
	assert.Contains(t, alerter.alerts, "critical:ownerclan")
}

func TestProcessNewOrdersChannelFailureIsolated(t *testing.T) {
	repo := newFakeRepo()
	good1 := &fakeAdapter{code: "coupang", prefix: "CP", orders: map[string]*domain.Order{
		"1": makeOrder(t, "CP", "coupang", "1"),
	}}
	broken := &fakeAdapter{code: "elevenst", prefix: "EL",
		fetchErr: domain.NewTransientError("elevenst", errors.New("connection refused"))}
	good2 := &fakeAdapter{code: "smartstore", prefix: "NS", orders: map[string]*domain.Order{
		"2": makeOrder(t, "NS", "smartstore", "2"),
	}}
	forwarder := &fakeForwarder{code: "ownerclan"}
	alerter := &nopAlerter{}

	p := newTestProcessor(repo, &fakeTrackerManager{}, alerter)
	p.RegisterAdapter(good1)
	p.RegisterAdapter(broken)
	p.RegisterAdapter(good2)
	p.RegisterForwarder(forwarder)

	stats := p.ProcessNewOrders(context.Background()).Snapshot()

	// 一个渠道挂掉，其余两个渠道正常摄取转发
	assert.Equal(t, JobStatusPartial, stats.Status)
	assert.Equal(t, 2, repo.inserts)
	assert.GreaterOrEqual(t, stats.Failed, 1)
	// 瞬时网络故障按 warning 告警，下个周期自动重试
	assert.Contains(t, alerter.alerts, "warning:elevenst")
	for _, id := range []string{"CP1", "NS2"} {
		stored, err := repo.FindByID(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, stored.Forwarded(), id)
	}
}

func TestSyncOrderStatusWritesChangedFieldsOnly(t *testing.T) {
	repo := newFakeRepo()
	local := makeOrder(t, "CP", "coupang", "1001")
	require.NoError(t, repo.Insert(context.Background(), local))

	// 渠道侧已经推进到 PREPARING
	remote := makeOrder(t, "CP", "coupang", "1001")
	remote.Status = domain.OrderStatusPreparing
	adapter := &fakeAdapter{code: "coupang", prefix: "CP", orders: map[string]*domain.Order{"1001": remote}}

	p := newTestProcessor(repo, &fakeTrackerManager{}, &nopAlerter{})
	p.RegisterAdapter(adapter)

	stats := p.SyncOrderStatus(context.Background()).Snapshot()
	assert.Equal(t, JobStatusSuccess, stats.Status)

	stored, err := repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPreparing, stored.Status)
}

func TestUpdateTrackingInfoFlow(t *testing.T) {
	repo := newFakeRepo()
	order := makeOrder(t, "CP", "coupang", "1001")
	order.MarkForwarded("ownerclan", "SUP-1", time.Now())
	require.NoError(t, repo.Insert(context.Background(), order))

	adapter := &fakeAdapter{code: "coupang", prefix: "CP", orders: map[string]*domain.Order{}}
	forwarder := &fakeForwarder{
		code:     "ownerclan",
		tracking: &port.TrackingInfo{Carrier: "cj", TrackingNumber: "6789"},
	}
	trackers := &fakeTrackerManager{snapshots: map[string]*port.TrackingSnapshot{
		"6789": {Carrier: "cj", TrackingNumber: "6789", Status: domain.DeliveryStatusInTransit, UpdatedAt: time.Now()},
	}}

	p := newTestProcessor(repo, trackers, &nopAlerter{})
	p.RegisterAdapter(adapter)
	p.RegisterForwarder(forwarder)

	stats := p.UpdateTrackingInfo(context.Background()).Snapshot()
	assert.Equal(t, JobStatusSuccess, stats.Status)

	stored, err := repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	// 供应商回传的运单号落库并回写渠道
	assert.Equal(t, "cj", stored.Delivery.Carrier)
	assert.Equal(t, "6789", stored.Delivery.TrackingNumber)
	assert.Contains(t, adapter.trackingSent, "1001")
	// 承运商快照推进配送子状态
	assert.Equal(t, domain.DeliveryStatusInTransit, stored.Delivery.Status)
}

func TestUpdateTrackingInfoDeliveredClosesOrder(t *testing.T) {
	repo := newFakeRepo()
	order := makeOrder(t, "CP", "coupang", "1001")
	order.MarkForwarded("ownerclan", "SUP-1", time.Now())
	require.NoError(t, order.TransitionTo(domain.OrderStatusConfirmed))
	require.NoError(t, order.TransitionTo(domain.OrderStatusShipped))
	order.SetTracking("cj", "6789")
	require.NoError(t, repo.Insert(context.Background(), order))

	trackers := &fakeTrackerManager{snapshots: map[string]*port.TrackingSnapshot{
		"6789": {Carrier: "cj", TrackingNumber: "6789", Status: domain.DeliveryStatusDelivered, UpdatedAt: time.Now()},
	}}

	p := newTestProcessor(repo, trackers, &nopAlerter{})
	p.RegisterForwarder(&fakeForwarder{code: "ownerclan"})

	p.UpdateTrackingInfo(context.Background())

	stored, err := repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusDelivered, stored.Delivery.Status)
	// 签收推动订单进入终态
	assert.Equal(t, domain.OrderStatusDelivered, stored.Status)
}

func TestUpdateTrackingInfoSkipsClosedAndStaleDeliveries(t *testing.T) {
	repo := newFakeRepo()

	active := makeOrder(t, "CP", "coupang", "1001")
	active.MarkForwarded("ownerclan", "SUP-1", time.Now())
	active.SetTracking("cj", "1111")
	require.NoError(t, repo.Insert(context.Background(), active))

	// 配送已退回的订单不再轮询承运商
	returned := makeOrder(t, "CP", "coupang", "1002")
	returned.MarkForwarded("ownerclan", "SUP-2", time.Now())
	returned.SetTracking("cj", "2222")
	returned.Delivery.Status = domain.DeliveryStatusReturned
	require.NoError(t, repo.Insert(context.Background(), returned))

	// 下单超过回看上限的订单也不再查
	stale := makeOrder(t, "CP", "coupang", "1003")
	stale.OrderDate = time.Now().Add(-trackingHorizon - 24*time.Hour)
	stale.MarkForwarded("ownerclan", "SUP-3", time.Now())
	stale.SetTracking("cj", "3333")
	require.NoError(t, repo.Insert(context.Background(), stale))

	trackers := &fakeTrackerManager{snapshots: map[string]*port.TrackingSnapshot{
		"1111": {Carrier: "cj", TrackingNumber: "1111", Status: domain.DeliveryStatusInTransit, UpdatedAt: time.Now()},
	}}

	p := newTestProcessor(repo, trackers, &nopAlerter{})
	p.RegisterForwarder(&fakeForwarder{code: "ownerclan"})

	p.UpdateTrackingInfo(context.Background())

	assert.Equal(t, []string{"1111"}, trackers.polled)

	stored, err := repo.FindByID(context.Background(), "CP1002")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusReturned, stored.Delivery.Status)
}

func TestProcessCancellations(t *testing.T) {
	repo := newFakeRepo()

	cancelled := makeOrder(t, "CP", "coupang", "1001")
	cancelled.MarkForwarded("ownerclan", "SUP-1", time.Now())
	require.NoError(t, cancelled.TransitionTo(domain.OrderStatusCancelled))
	require.NoError(t, repo.Insert(context.Background(), cancelled))

	// 已发货的取消单不再向供应商发取消
	shipped := makeOrder(t, "CP", "coupang", "1002")
	shipped.MarkForwarded("ownerclan", "SUP-2", time.Now())
	require.NoError(t, shipped.UpdateSupplierStatus(domain.SupplierStatusShipped))
	require.NoError(t, shipped.TransitionTo(domain.OrderStatusCancelled))
	require.NoError(t, repo.Insert(context.Background(), shipped))

	forwarder := &fakeForwarder{code: "ownerclan"}
	p := newTestProcessor(repo, &fakeTrackerManager{}, &nopAlerter{})
	p.RegisterForwarder(forwarder)

	stats := p.ProcessCancellations(context.Background()).Snapshot()
	assert.Equal(t, JobStatusSuccess, stats.Status)
	assert.Equal(t, []string{"SUP-1"}, forwarder.cancels)

	stored, err := repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	assert.Equal(t, domain.SupplierStatusCancelled, stored.SupplierStatus)
}

func TestProcessCancellationsRefusalAlerts(t *testing.T) {
	repo := newFakeRepo()
	order := makeOrder(t, "CP", "coupang", "1001")
	order.MarkForwarded("ownerclan", "SUP-1", time.Now())
	require.NoError(t, order.TransitionTo(domain.OrderStatusCancelled))
	require.NoError(t, repo.Insert(context.Background(), order))

	forwarder := &fakeForwarder{code: "ownerclan", refuseCancel: true}
	alerter := &nopAlerter{}
	p := newTestProcessor(repo, &fakeTrackerManager{}, alerter)
	p.RegisterForwarder(forwarder)

	stats := p.ProcessCancellations(context.Background()).Snapshot()

	// 供应商拒绝取消：记失败、发 critical 告警请人工介入，子状态不动
	assert.Equal(t, JobStatusFailed, stats.Status)
	assert.Contains(t, alerter.alerts, "critical:ownerclan")
	stored, err := repo.FindByID(context.Background(), "CP1001")
	require.NoError(t, err)
	assert.Equal(t, domain.SupplierStatusOrdered, stored.SupplierStatus)
}

func TestRunAllToleratesFailures(t *testing.T) {
	var ran []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	results := RunAll(context.Background(), 2, []Task{
		{Name: "ok", Run: func(ctx context.Context) error { record("ok"); return nil }},
		{Name: "fails", Run: func(ctx context.Context) error { record("fails"); return errors.New("boom") }},
		{Name: "panics", Run: func(ctx context.Context) error { record("panics"); panic("bad") }},
		{Name: "also-ok", Run: func(ctx context.Context) error { record("also-ok"); return nil }},
	})

	require.Len(t, results, 4)
	byName := make(map[string]error)
	for _, r := range results {
		byName[r.Name] = r.Err
	}
	assert.NoError(t, byName["ok"])
	assert.NoError(t, byName["also-ok"])
	assert.Error(t, byName["fails"])
	assert.Error(t, byName["panics"])
	assert.Contains(t, byName["panics"].Error(), "panic")
	// 全部任务都跑了，失败不取消其他任务
	assert.Len(t, ran, 4)
}

func TestJobStatsOutcome(t *testing.T) {
	s := NewJobStats("x")
	s.AddProcessed(3)
	s.Finish()
	assert.Equal(t, JobStatusSuccess, s.Snapshot().Status)

	s = NewJobStats("x")
	s.AddProcessed(1)
	s.AddError("one failed")
	s.Finish()
	assert.Equal(t, JobStatusPartial, s.Snapshot().Status)

	s = NewJobStats("x")
	s.AddError("all failed")
	s.Finish()
	assert.Equal(t, JobStatusFailed, s.Snapshot().Status)
}

func TestJobStatsErrorListBounded(t *testing.T) {
	s := NewJobStats("x")
	for i := 0; i < 100; i++ {
		s.AddError(fmt.Sprintf("err %d", i))
	}
	snap := s.Snapshot()
	assert.Equal(t, 100, snap.Failed)
	assert.Len(t, snap.Errors, maxStatErrors)
}
