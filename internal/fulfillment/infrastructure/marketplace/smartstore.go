// internal/fulfillment/infrastructure/marketplace/smartstore.go
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/config"
	"dropship/internal/pkg/httpclient"
)

const (
	smartstoreCode      = "smartstore"
	smartstoreIDPrefix  = "NS"
	smartstoreMaxWindow = 24 * time.Hour
	smartstorePageSize  = 100
)

var smartstoreDefaultStatusCodes = map[string]domain.OrderStatus{
	"PAYED":            domain.OrderStatusPending,
	"DISPATCHED":       domain.OrderStatusConfirmed,
	"PREPARING":        domain.OrderStatusPreparing,
	"DELIVERING":       domain.OrderStatusShipped,
	"DELIVERED":        domain.OrderStatusDelivered,
	"PURCHASE_DECIDED": domain.OrderStatusDelivered,
	"CANCELED":         domain.OrderStatusCancelled,
	"RETURNED":         domain.OrderStatusRefunded,
	"EXCHANGED":        domain.OrderStatusExchanged,
}

// SmartstoreAdapter 是 SmartStore 渠道的适配器。
// 认证方式是 OAuth2 client-credentials：token 缓存到过期，
// 收到 401 时强制刷新一次再重放请求。
type SmartstoreAdapter struct {
	cfg         config.MarketplaceConfig
	client      *httpclient.Client
	statusCodes map[string]domain.OrderStatus

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewSmartstoreAdapter 创建一个 SmartStore 适配器
func NewSmartstoreAdapter(cfg config.MarketplaceConfig, client *httpclient.Client) *SmartstoreAdapter {
	return &SmartstoreAdapter{
		cfg:         cfg,
		client:      client,
		statusCodes: mergeStatusCodes(smartstoreDefaultStatusCodes, cfg.StatusCodes),
		now:         time.Now,
	}
}

// Code 返回渠道编码
func (a *SmartstoreAdapter) Code() string { return smartstoreCode }

// IDPrefix 返回内部订单ID前缀
func (a *SmartstoreAdapter) IDPrefix() string { return smartstoreIDPrefix }

// MaxWindow 单次拉单窗口上限。SmartStore 的变更单查询窗口很窄，只有 24 小时。
func (a *SmartstoreAdapter) MaxWindow() time.Duration { return smartstoreMaxWindow }

type smartstoreTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// token 返回可用的 bearer token，过期时间留 60 秒余量
func (a *SmartstoreAdapter) token(ctx context.Context, force bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !force && a.accessToken != "" && a.now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)

	resp, err := a.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + "/external/v1/oauth2/token",
		Form:   form,
	})
	if err != nil {
		return "", domain.NewTransientError(smartstoreCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.NewChannelError(smartstoreCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), "token request rejected")
	}

	var tok smartstoreTokenResponse
	if err := json.Unmarshal(resp.Body, &tok); err != nil || tok.AccessToken == "" {
		return "", domain.NewChannelError(smartstoreCode, "BAD_TOKEN", "unparseable token response")
	}

	a.accessToken = tok.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return a.accessToken, nil
}

// send 带 bearer token 发送请求；401 时刷新一次 token 并重放
func (a *SmartstoreAdapter) send(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	tok, err := a.token(ctx, false)
	if err != nil {
		return nil, err
	}

	doOnce := func(token string) (*httpclient.Response, error) {
		return a.client.Do(ctx, httpclient.Request{
			Method: method,
			URL:    a.cfg.BaseURL + path,
			Query:  query,
			Headers: map[string]string{
				"Authorization": "Bearer " + token,
				"Content-Type":  "application/json",
			},
			Body: body,
		})
	}

	resp, err := doOnce(tok)
	if err != nil {
		return nil, domain.NewTransientError(smartstoreCode, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// token 失效，强制刷新后重放一次
		tok, err = a.token(ctx, true)
		if err != nil {
			return nil, err
		}
		resp, err = doOnce(tok)
		if err != nil {
			return nil, domain.NewTransientError(smartstoreCode, err)
		}
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewChannelError(smartstoreCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), truncate(string(resp.Body), 256))
	}
	return resp.Body, nil
}

type smartstoreListResponse struct {
	Data struct {
		Contents []json.RawMessage `json:"contents"`
		More     bool              `json:"more"`
	} `json:"data"`
}

type smartstoreRawOrder struct {
	ProductOrderID string      `json:"productOrderId"`
	OrderID        string      `json:"orderId"`
	Status         string      `json:"productOrderStatus"`
	OrderDate      string      `json:"orderDate"`
	PaymentDate    string      `json:"paymentDate"`
	PaymentMeans   string      `json:"paymentMeans"`
	ShippingFee    json.Number `json:"deliveryFeeAmount"`
	ShippingMemo   string      `json:"shippingMemo"`
	Receiver       struct {
		Name    string `json:"name"`
		Tel     string `json:"tel1"`
		ZipCode string `json:"zipCode"`
		Address string `json:"baseAddress"`
		Detail  string `json:"detailedAddress"`
	} `json:"shippingAddress"`
	Items []struct {
		ProductID       string      `json:"productId"`
		ProductName     string      `json:"productName"`
		SellerCode      string      `json:"sellerManagementCode"`
		Quantity        int         `json:"quantity"`
		UnitPrice       json.Number `json:"unitPrice"`
		TotalPaymentAmt json.Number `json:"totalPaymentAmount"`
		DiscountAmt     json.Number `json:"productDiscountAmount"`
	} `json:"productOrderItems"`
}

// FetchOrders 按变更窗口拉单，page 翻页直到 more=false
func (a *SmartstoreAdapter) FetchOrders(ctx context.Context, start, end time.Time, status string) ([]port.RawOrder, error) {
	if end.Before(start) {
		return nil, domain.NewValidationError("window", "end before start")
	}
	if end.Sub(start) > smartstoreMaxWindow {
		return nil, domain.NewValidationError("window",
			fmt.Sprintf("window %s exceeds smartstore maximum %s", end.Sub(start), smartstoreMaxWindow))
	}

	var out []port.RawOrder
	page := 1
	for {
		query := url.Values{}
		query.Set("from", start.Format(time.RFC3339))
		query.Set("to", end.Format(time.RFC3339))
		query.Set("page", fmt.Sprintf("%d", page))
		query.Set("size", fmt.Sprintf("%d", smartstorePageSize))
		if status != "" {
			query.Set("productOrderStatus", status)
		}

		body, err := a.send(ctx, http.MethodGet, "/external/v1/pay-order/seller/product-orders", query, nil)
		if err != nil {
			return nil, err
		}

		var list smartstoreListResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, domain.NewChannelError(smartstoreCode, "BAD_RESPONSE", err.Error())
		}

		for _, payload := range list.Data.Contents {
			var peek struct {
				ProductOrderID string `json:"productOrderId"`
			}
			if err := json.Unmarshal(payload, &peek); err != nil || peek.ProductOrderID == "" {
				continue
			}
			out = append(out, port.RawOrder{MarketplaceOrderID: peek.ProductOrderID, Payload: payload})
		}

		if !list.Data.More {
			break
		}
		page++
	}
	return out, nil
}

// FetchOrderDetail 拉取单个订单明细
func (a *SmartstoreAdapter) FetchOrderDetail(ctx context.Context, marketplaceOrderID string) (*port.RawOrder, error) {
	body, err := a.send(ctx, http.MethodGet,
		"/external/v1/pay-order/seller/product-orders/"+marketplaceOrderID, nil, nil)
	if err != nil {
		return nil, err
	}
	var detail struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, domain.NewChannelError(smartstoreCode, "BAD_RESPONSE", err.Error())
	}
	return &port.RawOrder{MarketplaceOrderID: marketplaceOrderID, Payload: detail.Data}, nil
}

// TransformOrder 把 SmartStore 报文转换为统一订单
func (a *SmartstoreAdapter) TransformOrder(raw *port.RawOrder) (*domain.Order, error) {
	var so smartstoreRawOrder
	if err := json.Unmarshal(raw.Payload, &so); err != nil {
		return nil, domain.NewChannelError(smartstoreCode, "BAD_PAYLOAD", err.Error())
	}

	status := domain.OrderStatusPending
	if s, ok := a.statusCodes[so.Status]; ok {
		status = s
	}

	var items []domain.OrderItem
	for i, it := range so.Items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		unit := numberToDecimal(it.UnitPrice)
		total := numberToDecimal(it.TotalPaymentAmt)
		if total.IsZero() {
			total = unit.Mul(decimal.NewFromInt(int64(qty)))
		}
		item, err := domain.NewOrderItem(
			fmt.Sprintf("%s-%d", raw.MarketplaceOrderID, i),
			it.ProductID, it.ProductID, it.SellerCode, it.ProductName,
			qty, unit, total, numberToDecimal(it.DiscountAmt),
		)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	customer := domain.CustomerInfo{
		Name:       so.Receiver.Name,
		Phone:      so.Receiver.Tel,
		PostalCode: so.Receiver.ZipCode,
		Address:    joinNonEmpty(so.Receiver.Address, so.Receiver.Detail),
		Memo:       so.ShippingMemo,
	}
	payment := domain.PaymentInfo{
		Method:      so.PaymentMeans,
		ShippingFee: numberToDecimal(so.ShippingFee),
	}
	if paidAt := parseTimeLoose(so.PaymentDate); !paidAt.IsZero() {
		payment.PaidAt = &paidAt
	}

	return domain.NewOrder(smartstoreIDPrefix, smartstoreCode, raw.MarketplaceOrderID,
		parseTimeLoose(so.OrderDate), status, items, customer, payment, raw.Payload)
}

// UpdateOrderStatus 回写状态到渠道，只支持发货指示确认
func (a *SmartstoreAdapter) UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status domain.OrderStatus) (bool, error) {
	if status != domain.OrderStatusConfirmed {
		return false, nil
	}
	_, err := a.send(ctx, http.MethodPost,
		"/external/v1/pay-order/seller/product-orders/"+marketplaceOrderID+"/confirm", nil, nil)
	if err != nil {
		if domain.IsChannelError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateTrackingInfo 回写承运商和运单号
func (a *SmartstoreAdapter) UpdateTrackingInfo(ctx context.Context, marketplaceOrderID, carrier, trackingNumber string) (bool, error) {
	body, _ := json.Marshal(map[string]string{
		"deliveryCompanyCode": carrier,
		"trackingNumber":      trackingNumber,
		"dispatchDate":        a.now().Format(time.RFC3339),
	})
	_, err := a.send(ctx, http.MethodPost,
		"/external/v1/pay-order/seller/product-orders/"+marketplaceOrderID+"/dispatch", nil, body)
	if err != nil {
		if domain.IsChannelError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
