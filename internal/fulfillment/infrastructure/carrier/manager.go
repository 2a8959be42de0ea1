// internal/fulfillment/infrastructure/carrier/manager.go
package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/redis"
)

const defaultCacheTTL = 10 * time.Minute

// Manager 按承运商编码分发查询请求，并用 redis 做短 TTL 缓存，
// 避免同一运单在轮询窗口内被反复打到承运商接口。
type Manager struct {
	mu       sync.RWMutex
	trackers map[string]port.CarrierTracker
	cache    *redis.Client
	cacheTTL time.Duration
}

var _ port.TrackerManager = (*Manager)(nil)

func NewManager(cache *redis.Client, cacheTTL time.Duration) *Manager {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Manager{
		trackers: make(map[string]port.CarrierTracker),
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// Register 注册一个承运商实现，重复注册时后者覆盖前者
func (m *Manager) Register(t port.CarrierTracker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers[t.Code()] = t
}

func (m *Manager) tracker(code string) (port.CarrierTracker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trackers[code]
	return t, ok
}

func cacheKey(carrierCode, trackingNumber string) string {
	return fmt.Sprintf("tracking:%s:%s", carrierCode, trackingNumber)
}

// Track 查询运单当前状态。
// 未注册的承运商和查不到数据一样返回 (nil, nil)，由上层决定怎么处理。
func (m *Manager) Track(ctx context.Context, carrierCode, trackingNumber string) (*port.TrackingSnapshot, error) {
	t, ok := m.tracker(carrierCode)
	if !ok {
		zlog.Ctx(ctx).Warn().Str("carrier", carrierCode).Msg("tracker not registered")
		return nil, nil
	}

	key := cacheKey(carrierCode, trackingNumber)
	if m.cache != nil {
		if cached, hit, err := m.cache.GetString(ctx, key); err == nil && hit {
			var snap port.TrackingSnapshot
			if err := json.Unmarshal([]byte(cached), &snap); err == nil {
				return &snap, nil
			}
		}
	}

	snap, err := t.Track(ctx, trackingNumber)
	if err != nil || snap == nil {
		return snap, err
	}

	if m.cache != nil {
		if encoded, err := json.Marshal(snap); err == nil {
			// 缓存写失败只记日志，查询结果照常返回
			if err := m.cache.SetEX(ctx, key, string(encoded), m.cacheTTL); err != nil {
				zlog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("tracking cache write failed")
			}
		}
	}
	return snap, nil
}

// TrackingHistory 查询完整轨迹，不走缓存
func (m *Manager) TrackingHistory(ctx context.Context, carrierCode, trackingNumber string) ([]domain.TrackingEvent, error) {
	t, ok := m.tracker(carrierCode)
	if !ok {
		return nil, nil
	}
	return t.TrackingHistory(ctx, trackingNumber)
}

// TrackAll 并发查询一批运单，按承运商分组隔离：
// 一家承运商挂掉不影响其他承运商的查询。
func (m *Manager) TrackAll(ctx context.Context, shipments []port.PendingShipment) []port.TrackResult {
	byCarrier := make(map[string][]port.PendingShipment)
	for _, s := range shipments {
		byCarrier[s.Carrier] = append(byCarrier[s.Carrier], s)
	}

	var mu sync.Mutex
	results := make([]port.TrackResult, 0, len(shipments))

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range byCarrier {
		group := group
		g.Go(func() error {
			for _, s := range group {
				snap, err := m.Track(gctx, s.Carrier, s.TrackingNumber)
				mu.Lock()
				results = append(results, port.TrackResult{OrderID: s.OrderID, Snapshot: snap, Err: err})
				mu.Unlock()
				if err != nil {
					zlog.Ctx(gctx).Warn().Err(err).
						Str("carrier", s.Carrier).
						Str("tracking_number", s.TrackingNumber).
						Msg("tracking lookup failed")
				}
			}
			// 承运商内的失败已经进结果，不向上冒泡
			return nil
		})
	}
	_ = g.Wait()
	return results
}
