// internal/fulfillment/infrastructure/marketplace/coupang.go
package marketplace

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/config"
	"dropship/internal/pkg/httpclient"
)

const (
	coupangCode      = "coupang"
	coupangIDPrefix  = "CP"
	coupangMaxWindow = 31 * 24 * time.Hour
	coupangPageSize  = 50
)

// coupangDefaultStatusCodes 是 Coupang 订单状态码到统一状态的默认码表，
// 配置里给出 status_codes 时以配置为准。
var coupangDefaultStatusCodes = map[string]domain.OrderStatus{
	"ACCEPT":         domain.OrderStatusPending,
	"INSTRUCT":       domain.OrderStatusConfirmed,
	"DEPARTURE":      domain.OrderStatusPreparing,
	"DELIVERING":     domain.OrderStatusShipped,
	"FINAL_DELIVERY": domain.OrderStatusDelivered,
	"CANCEL":         domain.OrderStatusCancelled,
	"RETURN":         domain.OrderStatusRefunded,
	"EXCHANGE":       domain.OrderStatusExchanged,
}

// CoupangAdapter 是 Coupang 渠道的适配器。
// 认证方式是请求签名：每个请求带 HMAC-SHA256 签名的 Authorization 头。
type CoupangAdapter struct {
	cfg         config.MarketplaceConfig
	client      *httpclient.Client
	statusCodes map[string]domain.OrderStatus
	now         func() time.Time // 测试时固定签名时间戳用
}

// NewCoupangAdapter 创建一个 Coupang 适配器
func NewCoupangAdapter(cfg config.MarketplaceConfig, client *httpclient.Client) *CoupangAdapter {
	return &CoupangAdapter{
		cfg:         cfg,
		client:      client,
		statusCodes: mergeStatusCodes(coupangDefaultStatusCodes, cfg.StatusCodes),
		now:         time.Now,
	}
}

// Code 返回渠道编码
func (a *CoupangAdapter) Code() string { return coupangCode }

// IDPrefix 返回内部订单ID前缀
func (a *CoupangAdapter) IDPrefix() string { return coupangIDPrefix }

// MaxWindow 单次拉单窗口上限
func (a *CoupangAdapter) MaxWindow() time.Duration { return coupangMaxWindow }

// sign 生成请求签名。
// 签名串为 signed-date + method + path + query，密钥是渠道下发的 secret key。
func (a *CoupangAdapter) sign(method, path, query string) (authorization string) {
	signedDate := a.now().UTC().Format("060102T150405Z")
	message := signedDate + method + path + query
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	mac.Write([]byte(message))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("CEA algorithm=HmacSHA256, access-key=%s, signed-date=%s, signature=%s",
		a.cfg.AccessKey, signedDate, signature)
}

type coupangListResponse struct {
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	Data      []json.RawMessage `json:"data"`
	NextToken string            `json:"nextToken"`
}

type coupangDetailResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// coupangRawOrder 是 Coupang 订单报文中我们关心的字段，其余字段原样留在快照里
type coupangRawOrder struct {
	OrderID   int64  `json:"orderId"`
	OrderedAt string `json:"orderedAt"`
	PaidAt    string `json:"paidAt"`
	Status    string `json:"status"`
	Receiver  struct {
		Name       string `json:"name"`
		SafeNumber string `json:"safeNumber"`
		PostCode   string `json:"postCode"`
		Addr1      string `json:"addr1"`
		Addr2      string `json:"addr2"`
	} `json:"receiver"`
	Orderer struct {
		Email string `json:"email"`
	} `json:"orderer"`
	ShippingPrice  json.Number `json:"shippingPrice"`
	ParcelPrintMsg string      `json:"parcelPrintMessage"`
	OrderItems     []struct {
		VendorItemID          int64       `json:"vendorItemId"`
		VendorItemName        string      `json:"vendorItemName"`
		SellerProductID       int64       `json:"sellerProductId"`
		ExternalVendorSkuCode string      `json:"externalVendorSkuCode"`
		ShippingCount         int         `json:"shippingCount"`
		SalesPrice            json.Number `json:"salesPrice"`
		OrderPrice            json.Number `json:"orderPrice"`
		DiscountPrice         json.Number `json:"discountPrice"`
		Status                string      `json:"status"`
	} `json:"orderItems"`
}

// FetchOrders 按时间窗口拉单，nextToken 翻页到尽头。
// 窗口超过渠道上限时不发任何请求直接报错。
func (a *CoupangAdapter) FetchOrders(ctx context.Context, start, end time.Time, status string) ([]port.RawOrder, error) {
	if end.Before(start) {
		return nil, domain.NewValidationError("window", "end before start")
	}
	if end.Sub(start) > coupangMaxWindow {
		return nil, domain.NewValidationError("window",
			fmt.Sprintf("window %s exceeds coupang maximum %s", end.Sub(start), coupangMaxWindow))
	}

	path := fmt.Sprintf("/v2/providers/openapi/apis/api/v4/vendors/%s/ordersheets", a.cfg.VendorID)
	var out []port.RawOrder
	nextToken := ""
	for {
		query := url.Values{}
		query.Set("createdAtFrom", start.Format("2006-01-02T15:04"))
		query.Set("createdAtTo", end.Format("2006-01-02T15:04"))
		query.Set("maxPerPage", fmt.Sprintf("%d", coupangPageSize))
		if status != "" {
			query.Set("status", status)
		}
		if nextToken != "" {
			query.Set("nextToken", nextToken)
		}

		resp, err := a.get(ctx, path, query)
		if err != nil {
			return nil, err
		}

		var list coupangListResponse
		if err := json.Unmarshal(resp.Body, &list); err != nil {
			return nil, domain.NewChannelError(coupangCode, "BAD_RESPONSE", err.Error())
		}
		if list.Code != 200 {
			return nil, domain.NewChannelError(coupangCode, fmt.Sprintf("%d", list.Code), list.Message)
		}

		for _, payload := range list.Data {
			var peek struct {
				OrderID int64 `json:"orderId"`
			}
			if err := json.Unmarshal(payload, &peek); err != nil || peek.OrderID == 0 {
				// 单条脏数据跳过，不影响本页其它订单
				continue
			}
			out = append(out, port.RawOrder{
				MarketplaceOrderID: fmt.Sprintf("%d", peek.OrderID),
				Payload:            payload,
			})
		}

		if list.NextToken == "" {
			break
		}
		nextToken = list.NextToken
	}
	return out, nil
}

// FetchOrderDetail 拉取单个订单的最新明细
func (a *CoupangAdapter) FetchOrderDetail(ctx context.Context, marketplaceOrderID string) (*port.RawOrder, error) {
	path := fmt.Sprintf("/v2/providers/openapi/apis/api/v4/vendors/%s/ordersheets/%s", a.cfg.VendorID, marketplaceOrderID)
	resp, err := a.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var detail coupangDetailResponse
	if err := json.Unmarshal(resp.Body, &detail); err != nil {
		return nil, domain.NewChannelError(coupangCode, "BAD_RESPONSE", err.Error())
	}
	if detail.Code != 200 {
		return nil, domain.NewChannelError(coupangCode, fmt.Sprintf("%d", detail.Code), detail.Message)
	}
	return &port.RawOrder{MarketplaceOrderID: marketplaceOrderID, Payload: detail.Data}, nil
}

// TransformOrder 把 Coupang 报文转换为统一订单。
// 纯函数；上游缺的可选字段全部降级为空值。
func (a *CoupangAdapter) TransformOrder(raw *port.RawOrder) (*domain.Order, error) {
	var co coupangRawOrder
	if err := json.Unmarshal(raw.Payload, &co); err != nil {
		return nil, domain.NewChannelError(coupangCode, "BAD_PAYLOAD", err.Error())
	}

	status := a.mapStatus(co.Status, co.itemStatus())

	var items []domain.OrderItem
	for i, it := range co.OrderItems {
		unit := numberToDecimal(it.SalesPrice)
		qty := it.ShippingCount
		if qty <= 0 {
			qty = 1
		}
		total := numberToDecimal(it.OrderPrice)
		if total.IsZero() {
			total = unit.Mul(decimal.NewFromInt(int64(qty)))
		}
		item, err := domain.NewOrderItem(
			fmt.Sprintf("%s-%d", raw.MarketplaceOrderID, i),
			fmt.Sprintf("%d", it.SellerProductID),
			fmt.Sprintf("%d", it.VendorItemID),
			it.ExternalVendorSkuCode,
			it.VendorItemName,
			qty, unit, total, numberToDecimal(it.DiscountPrice),
		)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	orderDate := parseTimeLoose(co.OrderedAt)
	customer := domain.CustomerInfo{
		Name:       co.Receiver.Name,
		Phone:      co.Receiver.SafeNumber,
		Email:      co.Orderer.Email,
		PostalCode: co.Receiver.PostCode,
		Address:    strings.TrimSpace(co.Receiver.Addr1 + " " + co.Receiver.Addr2),
		Memo:       co.ParcelPrintMsg,
	}
	payment := domain.PaymentInfo{
		ShippingFee: numberToDecimal(co.ShippingPrice),
	}
	if paidAt := parseTimeLoose(co.PaidAt); !paidAt.IsZero() {
		payment.PaidAt = &paidAt
	}

	return domain.NewOrder(coupangIDPrefix, coupangCode, raw.MarketplaceOrderID,
		orderDate, status, items, customer, payment, raw.Payload)
}

// UpdateOrderStatus 向 Coupang 回写状态。
// Coupang 只接受确认收单（发货指示），其它流转渠道不支持，返回 false。
func (a *CoupangAdapter) UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status domain.OrderStatus) (bool, error) {
	if status != domain.OrderStatusConfirmed {
		return false, nil
	}
	path := fmt.Sprintf("/v2/providers/openapi/apis/api/v4/vendors/%s/ordersheets/%s/acknowledgement", a.cfg.VendorID, marketplaceOrderID)
	resp, err := a.send(ctx, http.MethodPut, path, nil, nil)
	if err != nil {
		return false, err
	}
	var result coupangDetailResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return false, domain.NewChannelError(coupangCode, "BAD_RESPONSE", err.Error())
	}
	return result.Code == 200, nil
}

// UpdateTrackingInfo 向 Coupang 上传承运商和运单号
func (a *CoupangAdapter) UpdateTrackingInfo(ctx context.Context, marketplaceOrderID, carrier, trackingNumber string) (bool, error) {
	path := fmt.Sprintf("/v2/providers/openapi/apis/api/v4/vendors/%s/orders/invoices", a.cfg.VendorID)
	body, _ := json.Marshal(map[string]interface{}{
		"vendorId": a.cfg.VendorID,
		"orderSheetInvoiceApplyDtos": []map[string]string{{
			"shipmentBoxId":   marketplaceOrderID,
			"deliveryCompany": carrier,
			"invoiceNumber":   trackingNumber,
		}},
	})
	resp, err := a.send(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return false, err
	}
	var result coupangDetailResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return false, domain.NewChannelError(coupangCode, "BAD_RESPONSE", err.Error())
	}
	return result.Code == 200, nil
}

func (a *CoupangAdapter) get(ctx context.Context, path string, query url.Values) (*httpclient.Response, error) {
	return a.send(ctx, http.MethodGet, path, query, nil)
}

// send 发送一个带签名的请求，非 2xx 状态码映射为 ChannelError
func (a *CoupangAdapter) send(ctx context.Context, method, path string, query url.Values, body []byte) (*httpclient.Response, error) {
	rawQuery := ""
	if query != nil {
		rawQuery = query.Encode()
	}
	headers := map[string]string{
		"Authorization": a.sign(method, path, rawQuery),
		"Content-Type":  "application/json;charset=UTF-8",
	}
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:  method,
		URL:     a.cfg.BaseURL + path,
		Query:   query,
		Headers: headers,
		Body:    body,
		// 回写接口不幂等，签名也绑定了请求时刻，只发一次
		NoRetry: method != http.MethodGet,
	})
	if err != nil {
		// 重试耗尽，按瞬时错误上报，调用方本周期放弃、下周期再来
		return nil, domain.NewTransientError(coupangCode, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewChannelError(coupangCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), truncate(string(resp.Body), 256))
	}
	return resp, nil
}

// mapStatus 先看订单级状态，为空时退回第一条商品行的状态
func (a *CoupangAdapter) mapStatus(orderStatus, itemStatus string) domain.OrderStatus {
	if s, ok := a.statusCodes[orderStatus]; ok {
		return s
	}
	if s, ok := a.statusCodes[itemStatus]; ok {
		return s
	}
	return domain.OrderStatusPending
}

func (co *coupangRawOrder) itemStatus() string {
	if len(co.OrderItems) > 0 {
		return co.OrderItems[0].Status
	}
	return ""
}
