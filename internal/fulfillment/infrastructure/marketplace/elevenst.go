// internal/fulfillment/infrastructure/marketplace/elevenst.go
package marketplace

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/config"
	"dropship/internal/pkg/httpclient"
)

const (
	elevenstCode      = "elevenst"
	elevenstIDPrefix  = "EL"
	elevenstMaxWindow = 30 * 24 * time.Hour
	elevenstPageSize  = 100
)

// elevenstDefaultStatusCodes 11번가 的数字状态码
var elevenstDefaultStatusCodes = map[string]domain.OrderStatus{
	"102": domain.OrderStatusPending,   // 결제완료
	"201": domain.OrderStatusConfirmed, // 발주확인
	"202": domain.OrderStatusPreparing, // 배송준비중
	"301": domain.OrderStatusShipped,   // 배송중
	"401": domain.OrderStatusDelivered, // 배송완료
	"501": domain.OrderStatusCancelled, // 취소
	"601": domain.OrderStatusRefunded,  // 반품
	"701": domain.OrderStatusExchanged, // 교환
}

// ElevenstAdapter 是 11번가 渠道的适配器。
// 认证方式最简单：每个请求带 openapikey 请求头；报文是 XML。
type ElevenstAdapter struct {
	cfg         config.MarketplaceConfig
	client      *httpclient.Client
	statusCodes map[string]domain.OrderStatus
}

// NewElevenstAdapter 创建一个 11번가 适配器
func NewElevenstAdapter(cfg config.MarketplaceConfig, client *httpclient.Client) *ElevenstAdapter {
	return &ElevenstAdapter{
		cfg:         cfg,
		client:      client,
		statusCodes: mergeStatusCodes(elevenstDefaultStatusCodes, cfg.StatusCodes),
	}
}

// Code 返回渠道编码
func (a *ElevenstAdapter) Code() string { return elevenstCode }

// IDPrefix 返回内部订单ID前缀
func (a *ElevenstAdapter) IDPrefix() string { return elevenstIDPrefix }

// MaxWindow 单次拉单窗口上限
func (a *ElevenstAdapter) MaxWindow() time.Duration { return elevenstMaxWindow }

// elevenstOrderXML 订单报文里我们关心的字段
type elevenstOrderXML struct {
	XMLName     xml.Name `xml:"order"`
	OrdNo       string   `xml:"ordNo"`
	OrdDt       string   `xml:"ordDt"`
	OrdStat     string   `xml:"ordStat"`
	OrdNm       string   `xml:"ordNm"`
	RcvrNm      string   `xml:"rcvrNm"`
	RcvrTlphn   string   `xml:"rcvrTlphn"`
	RcvrMailAdr string   `xml:"rcvrMailAdr"`
	RcvrPost    string   `xml:"rcvrPost"`
	RcvrBaseAdr string   `xml:"rcvrBaseAdr"`
	RcvrDtlsAdr string   `xml:"rcvrDtlsAdr"`
	DlvMsg      string   `xml:"dlvMsg"`
	DlvCst      string   `xml:"dlvCst"`
	PayMthd     string   `xml:"payMthd"`
	PayDt       string   `xml:"payDt"`
	Products    []struct {
		PrdNo       string `xml:"prdNo"`
		PrdNm       string `xml:"prdNm"`
		SellerPrdCd string `xml:"sellerPrdCd"` // 卖家自定义编码，路由到供应商用
		OrdQty      string `xml:"ordQty"`
		SelPrc      string `xml:"selPrc"`
		OrdAmt      string `xml:"ordAmt"`
		DscAmt      string `xml:"dscAmt"`
		OrdPrdStat  string `xml:"ordPrdStat"`
	} `xml:"orderProduct"`
}

type elevenstOrdersXML struct {
	XMLName xml.Name           `xml:"orders"`
	Orders  []elevenstOrderXML `xml:"order"`
}

type elevenstErrorXML struct {
	XMLName xml.Name `xml:"errorResponse"`
	Code    string   `xml:"code"`
	Message string   `xml:"message"`
}

// FetchOrders 按窗口拉单，页号翻页直到返回的条数不满一页
func (a *ElevenstAdapter) FetchOrders(ctx context.Context, start, end time.Time, status string) ([]port.RawOrder, error) {
	if end.Before(start) {
		return nil, domain.NewValidationError("window", "end before start")
	}
	if end.Sub(start) > elevenstMaxWindow {
		return nil, domain.NewValidationError("window",
			fmt.Sprintf("window %s exceeds elevenst maximum %s", end.Sub(start), elevenstMaxWindow))
	}

	var out []port.RawOrder
	page := 1
	for {
		query := url.Values{}
		query.Set("ordStrtDt", start.Format("20060102"))
		query.Set("ordEndDt", end.Format("20060102"))
		query.Set("pageNum", fmt.Sprintf("%d", page))
		query.Set("pageSize", fmt.Sprintf("%d", elevenstPageSize))
		if status != "" {
			query.Set("ordStat", status)
		}

		body, err := a.get(ctx, "/rest/ordservices/complete", query)
		if err != nil {
			return nil, err
		}

		var list elevenstOrdersXML
		if err := xml.Unmarshal(body, &list); err != nil {
			// 先看是不是业务错误报文
			var apiErr elevenstErrorXML
			if xml.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
				return nil, domain.NewChannelError(elevenstCode, apiErr.Code, apiErr.Message)
			}
			return nil, domain.NewChannelError(elevenstCode, "BAD_RESPONSE", err.Error())
		}

		for i := range list.Orders {
			o := &list.Orders[i]
			if o.OrdNo == "" {
				continue
			}
			payload, err := xml.Marshal(o)
			if err != nil {
				continue
			}
			out = append(out, port.RawOrder{MarketplaceOrderID: o.OrdNo, Payload: payload})
		}

		if len(list.Orders) < elevenstPageSize {
			break
		}
		page++
	}
	return out, nil
}

// FetchOrderDetail 拉取单个订单明细
func (a *ElevenstAdapter) FetchOrderDetail(ctx context.Context, marketplaceOrderID string) (*port.RawOrder, error) {
	body, err := a.get(ctx, "/rest/ordservices/detail/"+marketplaceOrderID, nil)
	if err != nil {
		return nil, err
	}
	var o elevenstOrderXML
	if err := xml.Unmarshal(body, &o); err != nil {
		var apiErr elevenstErrorXML
		if xml.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return nil, domain.NewChannelError(elevenstCode, apiErr.Code, apiErr.Message)
		}
		return nil, domain.NewChannelError(elevenstCode, "BAD_RESPONSE", err.Error())
	}
	return &port.RawOrder{MarketplaceOrderID: marketplaceOrderID, Payload: body}, nil
}

// TransformOrder 把 XML 报文转换为统一订单
func (a *ElevenstAdapter) TransformOrder(raw *port.RawOrder) (*domain.Order, error) {
	var o elevenstOrderXML
	if err := xml.Unmarshal(raw.Payload, &o); err != nil {
		return nil, domain.NewChannelError(elevenstCode, "BAD_PAYLOAD", err.Error())
	}

	status := domain.OrderStatusPending
	if s, ok := a.statusCodes[o.OrdStat]; ok {
		status = s
	}

	var items []domain.OrderItem
	for i, p := range o.Products {
		qty := parseIntLoose(p.OrdQty)
		if qty <= 0 {
			qty = 1
		}
		unit := parseDecimalLoose(p.SelPrc)
		total := parseDecimalLoose(p.OrdAmt)
		if total.IsZero() {
			total = unit.Mul(decimal.NewFromInt(int64(qty)))
		}
		item, err := domain.NewOrderItem(
			fmt.Sprintf("%s-%d", raw.MarketplaceOrderID, i),
			p.PrdNo, p.PrdNo, p.SellerPrdCd, p.PrdNm,
			qty, unit, total, parseDecimalLoose(p.DscAmt),
		)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	customer := domain.CustomerInfo{
		Name:       o.RcvrNm,
		Phone:      o.RcvrTlphn,
		Email:      o.RcvrMailAdr,
		PostalCode: o.RcvrPost,
		Address:    joinNonEmpty(o.RcvrBaseAdr, o.RcvrDtlsAdr),
		Memo:       o.DlvMsg,
	}
	payment := domain.PaymentInfo{
		Method:      o.PayMthd,
		ShippingFee: parseDecimalLoose(o.DlvCst),
	}
	if paidAt := parseTimeLoose(o.PayDt); !paidAt.IsZero() {
		payment.PaidAt = &paidAt
	}

	// JSON 快照便于后续统一处理（原报文是 XML）
	snapshot, _ := json.Marshal(map[string]string{"format": "xml", "payload": string(raw.Payload)})

	return domain.NewOrder(elevenstIDPrefix, elevenstCode, raw.MarketplaceOrderID,
		parseTimeLoose(o.OrdDt), status, items, customer, payment, snapshot)
}

// UpdateOrderStatus 11번가 只支持发주确认（102 -> 201），其余流转返回 false
func (a *ElevenstAdapter) UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status domain.OrderStatus) (bool, error) {
	if status != domain.OrderStatusConfirmed {
		return false, nil
	}
	body, err := a.send(ctx, http.MethodPut, "/rest/ordservices/confirms/"+marketplaceOrderID, nil, nil)
	if err != nil {
		return false, err
	}
	var apiErr elevenstErrorXML
	if xml.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" && apiErr.Code != "0" {
		return false, nil
	}
	return true, nil
}

// UpdateTrackingInfo 回写承运商和运单号
func (a *ElevenstAdapter) UpdateTrackingInfo(ctx context.Context, marketplaceOrderID, carrier, trackingNumber string) (bool, error) {
	query := url.Values{}
	query.Set("dlvEtprsCd", carrier)
	query.Set("invcNo", trackingNumber)
	body, err := a.send(ctx, http.MethodPut, "/rest/ordservices/shippings/"+marketplaceOrderID, query, nil)
	if err != nil {
		return false, err
	}
	var apiErr elevenstErrorXML
	if xml.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" && apiErr.Code != "0" {
		return false, nil
	}
	return true, nil
}

func (a *ElevenstAdapter) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return a.send(ctx, http.MethodGet, path, query, nil)
}

func (a *ElevenstAdapter) send(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method: method,
		URL:    a.cfg.BaseURL + path,
		Query:  query,
		Headers: map[string]string{
			"openapikey":   a.cfg.APIKey,
			"Content-Type": "text/xml;charset=UTF-8",
		},
		Body: body,
	})
	if err != nil {
		return nil, domain.NewTransientError(elevenstCode, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewChannelError(elevenstCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), truncate(string(resp.Body), 256))
	}
	return resp.Body, nil
}
