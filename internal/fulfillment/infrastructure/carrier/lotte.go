// internal/fulfillment/infrastructure/carrier/lotte.go
package carrier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/httpclient"
)

const lotteCode = "lotte"

// LotteTracker 通过签名表单 POST 查询运单。
// 签名是 HMAC-SHA256(secret, invoiceNo + timestamp) 的十六进制小写。
type LotteTracker struct {
	baseURL string
	secret  string
	codeMap map[string]string
	client  *httpclient.Client
	now     func() time.Time
}

func NewLotteTracker(baseURL, secret string, codeMap map[string]string, client *httpclient.Client) *LotteTracker {
	return &LotteTracker{
		baseURL: baseURL,
		secret:  secret,
		codeMap: codeMap,
		client:  client,
		now:     time.Now,
	}
}

func (t *LotteTracker) Code() string { return lotteCode }

func (t *LotteTracker) sign(trackingNumber, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(t.secret))
	mac.Write([]byte(trackingNumber + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

type lotteTrackResponse struct {
	Code    string `json:"resultCode"`
	Message string `json:"resultMessage"`
	Events  []struct {
		ScanTime string `json:"scanDt"` // "20260115143000"
		Status   string `json:"statusNm"`
		Branch   string `json:"branNm"`
	} `json:"trackingList"`
}

func (t *LotteTracker) fetch(ctx context.Context, trackingNumber string) (*lotteTrackResponse, error) {
	timestamp := fmt.Sprintf("%d", t.now().Unix())
	form := url.Values{}
	form.Set("invoiceNo", trackingNumber)
	form.Set("timestamp", timestamp)
	form.Set("signature", t.sign(trackingNumber, timestamp))

	resp, err := t.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    t.baseURL + "/openapi/tracking/invoice",
		Form:   form,
	})
	if err != nil {
		return nil, domain.NewTransientError(lotteCode, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewChannelError(lotteCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), "tracking endpoint rejected request")
	}
	var out lotteTrackResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, domain.NewParseError(lotteCode, err.Error())
	}
	if out.Code != "" && out.Code != "0000" {
		return nil, domain.NewChannelError(lotteCode, out.Code, out.Message)
	}
	return &out, nil
}

func lotteParseTime(s string) time.Time {
	if ts, err := time.Parse("20060102150405", s); err == nil {
		return ts
	}
	return time.Time{}
}

// Track 返回运单当前状态，没有轨迹时返回 (nil, nil)
func (t *LotteTracker) Track(ctx context.Context, trackingNumber string) (*port.TrackingSnapshot, error) {
	resp, err := t.fetch(ctx, trackingNumber)
	if err != nil {
		if domain.IsParseError(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(resp.Events) == 0 {
		return nil, nil
	}

	latest := resp.Events[0]
	latestAt := lotteParseTime(latest.ScanTime)
	for _, e := range resp.Events[1:] {
		if at := lotteParseTime(e.ScanTime); at.After(latestAt) {
			latest, latestAt = e, at
		}
	}
	return &port.TrackingSnapshot{
		Carrier:        lotteCode,
		TrackingNumber: trackingNumber,
		Status:         InferStatus(t.codeMap, latest.Status),
		RawStatus:      latest.Status,
		Location:       latest.Branch,
		UpdatedAt:      latestAt,
	}, nil
}

// TrackingHistory 返回按时间升序的完整轨迹
func (t *LotteTracker) TrackingHistory(ctx context.Context, trackingNumber string) ([]domain.TrackingEvent, error) {
	resp, err := t.fetch(ctx, trackingNumber)
	if err != nil {
		if domain.IsParseError(err) {
			return nil, nil
		}
		return nil, err
	}

	events := make([]domain.TrackingEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		events = append(events, domain.TrackingEvent{
			Time:      lotteParseTime(e.ScanTime),
			Status:    InferStatus(t.codeMap, e.Status),
			RawStatus: e.Status,
			Location:  e.Branch,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	return events, nil
}
