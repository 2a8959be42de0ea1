package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/pkg/config"
)

func newSmartstoreForTest(baseURL string) *SmartstoreAdapter {
	return NewSmartstoreAdapter(config.MarketplaceConfig{
		BaseURL:      baseURL,
		ClientID:     "cid",
		ClientSecret: "csec",
	}, testHTTPClient())
}

func TestSmartstoreTokenCached(t *testing.T) {
	tokenCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/external/v1/oauth2/token":
			tokenCalls++
			fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, tokenCalls)
		default:
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"data":{"contents":[],"more":false}}`)
		}
	}))
	defer srv.Close()

	a := newSmartstoreForTest(srv.URL)
	start, end := time.Now().Add(-time.Hour), time.Now()

	_, err := a.FetchOrders(context.Background(), start, end, "")
	require.NoError(t, err)
	_, err = a.FetchOrders(context.Background(), start, end, "")
	require.NoError(t, err)

	// token 缓存到过期，两次拉单只取一次 token
	assert.Equal(t, 1, tokenCalls)
}

func TestSmartstoreRefreshesTokenOn401(t *testing.T) {
	tokenCalls := 0
	apiCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/external/v1/oauth2/token":
			tokenCalls++
			fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, tokenCalls)
		default:
			apiCalls++
			// 第一个 token 已被撤销，强制走一次刷新重放
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"data":{"contents":[{"productOrderId":"NSO-1"}],"more":false}}`)
		}
	}))
	defer srv.Close()

	a := newSmartstoreForTest(srv.URL)
	raws, err := a.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now(), "")
	require.NoError(t, err)

	require.Len(t, raws, 1)
	assert.Equal(t, "NSO-1", raws[0].MarketplaceOrderID)
	assert.Equal(t, 2, tokenCalls)
	assert.Equal(t, 2, apiCalls)
}

func TestSmartstoreWindowValidation(t *testing.T) {
	a := newSmartstoreForTest("http://unused")
	_, err := a.FetchOrders(context.Background(), time.Now().Add(-48*time.Hour), time.Now(), "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestSmartstoreTokenRequestRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := newSmartstoreForTest(srv.URL)
	_, err := a.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now(), "")
	require.Error(t, err)
	assert.True(t, domain.IsChannelError(err))
}
