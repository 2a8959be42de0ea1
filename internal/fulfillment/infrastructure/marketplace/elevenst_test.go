package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/config"
)

const elevenstOrderFixture = `<order>
  <ordNo>2026011012345</ordNo>
  <ordDt>20260110093000</ordDt>
  <ordStat>102</ordStat>
  <rcvrNm>이영희</rcvrNm>
  <rcvrTlphn>010-9876-5432</rcvrTlphn>
  <rcvrPost>48058</rcvrPost>
  <rcvrBaseAdr>부산광역시 해운대구</rcvrBaseAdr>
  <rcvrDtlsAdr>센텀로 45</rcvrDtlsAdr>
  <dlvCst>3000</dlvCst>
  <orderProduct>
    <prdNo>88001</prdNo>
    <prdNm>블루투스 키보드</prdNm>
    <sellerPrdCd>OC-88001</sellerPrdCd>
    <ordQty>1</ordQty>
    <selPrc>45000</selPrc>
    <ordAmt>45000</ordAmt>
  </orderProduct>
</order>`

func newElevenstForTest(baseURL string) *ElevenstAdapter {
	return NewElevenstAdapter(config.MarketplaceConfig{
		BaseURL: baseURL,
		APIKey:  "key",
	}, testHTTPClient())
}

func TestElevenstTransformOrder(t *testing.T) {
	a := newElevenstForTest("http://unused")
	order, err := a.TransformOrder(&port.RawOrder{
		MarketplaceOrderID: "2026011012345",
		Payload:            []byte(elevenstOrderFixture),
	})
	require.NoError(t, err)

	assert.Equal(t, "EL2026011012345", order.ID)
	assert.Equal(t, "elevenst", order.Marketplace)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "이영희", order.Customer.Name)
	assert.Equal(t, "부산광역시 해운대구 센텀로 45", order.Customer.Address)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "OC-88001", order.Items[0].SupplierProductID)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(45000)))
	assert.Equal(t, time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC), order.OrderDate)
}

func TestElevenstStatusCodeMapping(t *testing.T) {
	a := newElevenstForTest("http://unused")
	tests := []struct {
		code string
		want domain.OrderStatus
	}{
		{"102", domain.OrderStatusPending},
		{"201", domain.OrderStatusConfirmed},
		{"301", domain.OrderStatusShipped},
		{"401", domain.OrderStatusDelivered},
		{"501", domain.OrderStatusCancelled},
		{"999", domain.OrderStatusPending}, // 未知码回落到 PENDING
	}
	for _, tt := range tests {
		payload := fmt.Sprintf(`<order><ordNo>1</ordNo><ordDt>20260110093000</ordDt><ordStat>%s</ordStat>
			<orderProduct><prdNo>1</prdNo><prdNm>x</prdNm><ordQty>1</ordQty><selPrc>100</selPrc><ordAmt>100</ordAmt></orderProduct>
		</order>`, tt.code)
		order, err := a.TransformOrder(&port.RawOrder{MarketplaceOrderID: "1", Payload: []byte(payload)})
		require.NoError(t, err, tt.code)
		assert.Equal(t, tt.want, order.Status, tt.code)
	}
}

func TestElevenstFetchOrdersBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("openapikey"))
		fmt.Fprint(w, `<errorResponse><code>1001</code><message>인증 실패</message></errorResponse>`)
	}))
	defer srv.Close()

	a := newElevenstForTest(srv.URL)
	_, err := a.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now(), "")
	require.Error(t, err)
	assert.True(t, domain.IsChannelError(err))
	assert.Contains(t, err.Error(), "1001")
}
