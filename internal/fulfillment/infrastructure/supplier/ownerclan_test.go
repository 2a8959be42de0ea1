package supplier

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/pkg/config"
	"dropship/internal/pkg/httpclient"
)

func testHTTPClient() *httpclient.Client {
	return httpclient.NewClient(otel.Tracer("test"), 5*time.Second,
		httpclient.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond})
}

func testOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	item, err := domain.NewOrderItem(id+"-0", "p1", "mp1", "OC-1", "상품",
		1, decimal.NewFromInt(10000), decimal.NewFromInt(10000), decimal.Zero)
	require.NoError(t, err)
	order, err := domain.NewOrder("CP", "coupang", id, time.Now(),
		domain.OrderStatusPending, []domain.OrderItem{*item},
		domain.CustomerInfo{Name: "김철수", Phone: "010-1111-2222", Address: "서울"},
		domain.PaymentInfo{}, []byte(`{}`))
	require.NoError(t, err)
	return order
}

func TestOwnerClanPlaceOrderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ownerclanOrderRequest
		require.NoError(t, xml.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-key", req.APIKey)
		assert.Equal(t, "CP1001", req.OrderRef)
		require.Len(t, req.Items, 1)
		assert.Equal(t, "OC-1", req.Items[0].ProductCode)

		fmt.Fprint(w, `<response><resultCode>0</resultCode><orderNo>OWN-555</orderNo></response>`)
	}))
	defer srv.Close()

	f := NewOwnerClanForwarder(config.SupplierConfig{BaseURL: srv.URL, APIKey: "test-key"}, testHTTPClient())
	order := testOrder(t, "1001")

	res, err := f.PlaceOrder(context.Background(), order, order.Items)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "OWN-555", res.SupplierOrderID)
}

func TestOwnerClanPlaceOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response><resultCode>301</resultCode><resultMessage>재고 부족</resultMessage></response>`)
	}))
	defer srv.Close()

	f := NewOwnerClanForwarder(config.SupplierConfig{BaseURL: srv.URL, APIKey: "k"}, testHTTPClient())
	order := testOrder(t, "1002")

	// 非零结果码不是错误，是带供应商原始消息的失败结果
	res, err := f.PlaceOrder(context.Background(), order, order.Items)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "301", res.Code)
	assert.Equal(t, "재고 부족", res.Message)
}

func TestOwnerClanStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response><resultCode>0</resultCode><orderStatus>30</orderStatus>
			<deliveryCorp>cj</deliveryCorp><invoiceNo>6789</invoiceNo></response>`)
	}))
	defer srv.Close()

	f := NewOwnerClanForwarder(config.SupplierConfig{BaseURL: srv.URL, APIKey: "k"}, testHTTPClient())
	res, err := f.CheckOrderStatus(context.Background(), "OWN-555")
	require.NoError(t, err)
	assert.Equal(t, domain.SupplierStatusShipped, res.Status)
	assert.Equal(t, "cj", res.Carrier)
	assert.Equal(t, "6789", res.TrackingNumber)
}

func TestOwnerClanStatusCodeTable(t *testing.T) {
	cases := []struct {
		code string
		want domain.SupplierStatus
	}{
		{"10", domain.SupplierStatusConfirmed},
		{"20", domain.SupplierStatusPreparing},
		{"30", domain.SupplierStatusShipped},
		{"40", domain.SupplierStatusDelivered},
		{"90", domain.SupplierStatusCancelled},
		// 未知状态码按已接单处理，不让对账崩掉
		{"77", domain.SupplierStatusConfirmed},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `<response><resultCode>0</resultCode><orderStatus>%s</orderStatus></response>`, tc.code)
			}))
			defer srv.Close()

			f := NewOwnerClanForwarder(config.SupplierConfig{BaseURL: srv.URL, APIKey: "k"}, testHTTPClient())
			res, err := f.CheckOrderStatus(context.Background(), "OWN-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
		})
	}
}

func TestOwnerClanGetTrackingInfoNotShipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response><resultCode>0</resultCode><orderStatus>20</orderStatus></response>`)
	}))
	defer srv.Close()

	f := NewOwnerClanForwarder(config.SupplierConfig{BaseURL: srv.URL, APIKey: "k"}, testHTTPClient())
	info, err := f.GetTrackingInfo(context.Background(), "OWN-555")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestOwnerClanBatchPartitioning(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ownerclanOrderRequest
		require.NoError(t, xml.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen = append(seen, req.OrderRef)
		mu.Unlock()

		// 一个坏订单不拖垮同批其他订单
		if req.OrderRef == "CP3" {
			fmt.Fprint(w, `<response><resultCode>500</resultCode><resultMessage>상품 없음</resultMessage></response>`)
			return
		}
		fmt.Fprintf(w, `<response><resultCode>0</resultCode><orderNo>OWN-%s</orderNo></response>`, req.OrderRef)
	}))
	defer srv.Close()

	f := NewOwnerClanForwarder(config.SupplierConfig{
		BaseURL:    srv.URL,
		APIKey:     "k",
		BatchSize:  3,
		BatchDelay: time.Millisecond,
	}, testHTTPClient())

	orders := make([]*domain.Order, 0, 7)
	for i := 1; i <= 7; i++ {
		orders = append(orders, testOrder(t, fmt.Sprintf("%d", i)))
	}

	results := f.ProcessBatchOrders(context.Background(), orders)

	// ⌈7/3⌉ 批全部执行，结果按订单聚合
	require.Len(t, results, 7)
	assert.Len(t, seen, 7)
	for _, o := range orders {
		r, ok := results[o.ID]
		require.True(t, ok, o.ID)
		require.NoError(t, r.Err)
		if o.ID == "CP3" {
			assert.False(t, r.Result.OK)
			assert.Equal(t, "500", r.Result.Code)
		} else {
			assert.True(t, r.Result.OK)
			assert.Equal(t, "OWN-"+o.ID, r.Result.SupplierOrderID)
		}
	}
}
