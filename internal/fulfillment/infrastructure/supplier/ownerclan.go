// internal/fulfillment/infrastructure/supplier/ownerclan.go
package supplier

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/config"
	"dropship/internal/pkg/httpclient"
)

const (
	ownerclanCode     = "ownerclan"
	defaultBatchSize  = 10
	defaultBatchDelay = 2 * time.Second
	ownerclanResultOK = "0"
)

// ownerclanStatusCodes 供应商状态码到统一供应商状态的映射
var ownerclanStatusCodes = map[string]domain.SupplierStatus{
	"10": domain.SupplierStatusConfirmed,
	"20": domain.SupplierStatusPreparing,
	"30": domain.SupplierStatusShipped,
	"40": domain.SupplierStatusDelivered,
	"90": domain.SupplierStatusCancelled,
}

// OwnerClanForwarder 对接 OwnerClan 的 XML 接口。
// 批量下单按固定大小分批，批内并发、批间停顿，避免触发供应商限流。
type OwnerClanForwarder struct {
	cfg    config.SupplierConfig
	client *httpclient.Client
}

func NewOwnerClanForwarder(cfg config.SupplierConfig, client *httpclient.Client) *OwnerClanForwarder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = defaultBatchDelay
	}
	return &OwnerClanForwarder{cfg: cfg, client: client}
}

// Code 返回供应商编码
func (f *OwnerClanForwarder) Code() string { return ownerclanCode }

type ownerclanOrderRequest struct {
	XMLName  xml.Name            `xml:"order"`
	APIKey   string              `xml:"apiKey"`
	OrderRef string              `xml:"orderRef"`
	Receiver ownerclanReceiver   `xml:"receiver"`
	Items    []ownerclanItemLine `xml:"items>item"`
}

type ownerclanReceiver struct {
	Name    string `xml:"name"`
	Phone   string `xml:"phone"`
	ZipCode string `xml:"zipCode"`
	Address string `xml:"address"`
	Memo    string `xml:"memo,omitempty"`
}

type ownerclanItemLine struct {
	ProductCode string `xml:"productCode"`
	ProductName string `xml:"productName,omitempty"`
	Quantity    int    `xml:"quantity"`
}

type ownerclanResponse struct {
	XMLName        xml.Name `xml:"response"`
	ResultCode     string   `xml:"resultCode"`
	ResultMessage  string   `xml:"resultMessage"`
	SupplierOrder  string   `xml:"orderNo"`
	OrderStatus    string   `xml:"orderStatus"`
	DeliveryCorp   string   `xml:"deliveryCorp"`
	TrackingNumber string   `xml:"invoiceNo"`
}

// post 发送 XML 请求并解析响应信封
func (f *OwnerClanForwarder) post(ctx context.Context, path string, payload interface{}) (*ownerclanResponse, error) {
	body, err := xml.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    f.cfg.BaseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/xml",
		},
		Body: append([]byte(xml.Header), body...),
	})
	if err != nil {
		return nil, domain.NewTransientError(ownerclanCode, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewChannelError(ownerclanCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), "supplier endpoint rejected request")
	}
	var out ownerclanResponse
	if err := xml.Unmarshal(resp.Body, &out); err != nil {
		return nil, domain.NewChannelError(ownerclanCode, "BAD_RESPONSE", err.Error())
	}
	return &out, nil
}

// PlaceOrder 对单个订单下单。
// 非零结果码不是传输错误，转成带供应商原始消息的失败结果返回。
func (f *OwnerClanForwarder) PlaceOrder(ctx context.Context, order *domain.Order, items []domain.OrderItem) (*port.PlaceResult, error) {
	req := ownerclanOrderRequest{
		APIKey:   f.cfg.APIKey,
		OrderRef: order.ID,
		Receiver: ownerclanReceiver{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			ZipCode: order.Customer.PostalCode,
			Address: order.Customer.Address,
			Memo:    order.Customer.Memo,
		},
	}
	for _, it := range items {
		req.Items = append(req.Items, ownerclanItemLine{
			ProductCode: it.SupplierProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
		})
	}

	resp, err := f.post(ctx, "/api/order/create", req)
	if err != nil {
		return nil, err
	}
	if resp.ResultCode != ownerclanResultOK {
		return &port.PlaceResult{
			OK:      false,
			Code:    resp.ResultCode,
			Message: resp.ResultMessage,
		}, nil
	}
	return &port.PlaceResult{
		OK:              true,
		SupplierOrderID: resp.SupplierOrder,
		Code:            resp.ResultCode,
		Message:         resp.ResultMessage,
	}, nil
}

// CheckOrderStatus 查询供应商订单状态
func (f *OwnerClanForwarder) CheckOrderStatus(ctx context.Context, supplierOrderID string) (*port.SupplierStatusResult, error) {
	resp, err := f.post(ctx, "/api/order/status", struct {
		XMLName xml.Name `xml:"query"`
		APIKey  string   `xml:"apiKey"`
		OrderNo string   `xml:"orderNo"`
	}{APIKey: f.cfg.APIKey, OrderNo: supplierOrderID})
	if err != nil {
		return nil, err
	}
	if resp.ResultCode != ownerclanResultOK {
		return nil, domain.NewChannelError(ownerclanCode, resp.ResultCode, resp.ResultMessage)
	}
	status, ok := ownerclanStatusCodes[resp.OrderStatus]
	if !ok {
		status = domain.SupplierStatusConfirmed
	}
	return &port.SupplierStatusResult{
		Status:         status,
		Carrier:        resp.DeliveryCorp,
		TrackingNumber: resp.TrackingNumber,
	}, nil
}

// CancelOrder 请求供应商取消订单
func (f *OwnerClanForwarder) CancelOrder(ctx context.Context, supplierOrderID, reason string) (bool, error) {
	resp, err := f.post(ctx, "/api/order/cancel", struct {
		XMLName xml.Name `xml:"cancel"`
		APIKey  string   `xml:"apiKey"`
		OrderNo string   `xml:"orderNo"`
		Reason  string   `xml:"reason"`
	}{APIKey: f.cfg.APIKey, OrderNo: supplierOrderID, Reason: reason})
	if err != nil {
		return false, err
	}
	if resp.ResultCode != ownerclanResultOK {
		return false, domain.NewChannelError(ownerclanCode, resp.ResultCode, resp.ResultMessage)
	}
	return true, nil
}

// GetTrackingInfo 获取运单信息，尚未发货时返回 nil
func (f *OwnerClanForwarder) GetTrackingInfo(ctx context.Context, supplierOrderID string) (*port.TrackingInfo, error) {
	resp, err := f.post(ctx, "/api/order/status", struct {
		XMLName xml.Name `xml:"query"`
		APIKey  string   `xml:"apiKey"`
		OrderNo string   `xml:"orderNo"`
	}{APIKey: f.cfg.APIKey, OrderNo: supplierOrderID})
	if err != nil {
		return nil, err
	}
	if resp.ResultCode != ownerclanResultOK {
		return nil, domain.NewChannelError(ownerclanCode, resp.ResultCode, resp.ResultMessage)
	}
	if resp.TrackingNumber == "" {
		return nil, nil
	}
	return &port.TrackingInfo{
		Carrier:        resp.DeliveryCorp,
		TrackingNumber: resp.TrackingNumber,
	}, nil
}

// ProcessBatchOrders 批量下单：按 BatchSize 切块，块内并发、块间停顿。
// 单个订单失败不影响同批其他订单，结果按订单ID聚合返回。
func (f *OwnerClanForwarder) ProcessBatchOrders(ctx context.Context, orders []*domain.Order) map[string]port.BatchResult {
	results := make(map[string]port.BatchResult, len(orders))
	if len(orders) == 0 {
		return results
	}

	for start := 0; start < len(orders); start += f.cfg.BatchSize {
		end := start + f.cfg.BatchSize
		if end > len(orders) {
			end = len(orders)
		}
		chunk := orders[start:end]

		chunkResults := make([]port.BatchResult, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		for i, order := range chunk {
			i, order := i, order
			g.Go(func() error {
				res, err := f.PlaceOrder(gctx, order, order.Items)
				chunkResults[i] = port.BatchResult{OrderID: order.ID, Result: res, Err: err}
				// 错误进结果，不向上冒泡，避免取消同批其他订单
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range chunkResults {
			results[r.OrderID] = r
			if r.Err != nil {
				zlog.Ctx(ctx).Warn().Err(r.Err).
					Str("order_id", r.OrderID).
					Msg("supplier batch order failed")
			}
		}

		// 批间停顿，最后一批不等
		if end < len(orders) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(f.cfg.BatchDelay):
			}
		}
	}
	return results
}
