// internal/fulfillment/infrastructure/carrier/cj.go
package carrier

import (
	"context"
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

const cjCode = "cj"

// CJTracker 通过 CJ 的 JSON 查询接口跟踪运单
type CJTracker struct {
	baseURL string
	codeMap map[string]string
	client  *httpclient.Client
}

func NewCJTracker(baseURL string, codeMap map[string]string, client *httpclient.Client) *CJTracker {
	return &CJTracker{baseURL: baseURL, codeMap: codeMap, client: client}
}

func (t *CJTracker) Code() string { return cjCode }

type cjTrackResponse struct {
	ParcelResult struct {
		ResultList []struct {
			InvoiceNo string `json:"invcNo"`
		} `json:"resultList"`
	} `json:"parcelResultMap"`
	DetailResult struct {
		ResultList []cjTrackDetail `json:"resultList"`
	} `json:"parcelDetailResultMap"`
}

type cjTrackDetail struct {
	DealDate string `json:"dTime"`  // "2026-01-15 14:30:00.0"
	Status   string `json:"crgSt"`  // 状态码
	StatusNm string `json:"scanNm"` // 状态文本
	Location string `json:"regBranNm"`
	Remark   string `json:"dTimeText"`
}

func (t *CJTracker) fetch(ctx context.Context, trackingNumber string) (*cjTrackResponse, error) {
	query := url.Values{}
	query.Set("paramInvcNo", trackingNumber)

	resp, err := t.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    t.baseURL + "/web/detail.do",
		Query:  query,
	})
	if err != nil {
		return nil, domain.NewTransientError(cjCode, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewChannelError(cjCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), "tracking endpoint rejected request")
	}
	var out cjTrackResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		// 解析失败按无数据处理
		return nil, domain.NewParseError(cjCode, err.Error())
	}
	return &out, nil
}

func cjParseTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.0", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Track 返回运单当前状态，没有轨迹时返回 (nil, nil)
func (t *CJTracker) Track(ctx context.Context, trackingNumber string) (*port.TrackingSnapshot, error) {
	resp, err := t.fetch(ctx, trackingNumber)
	if err != nil {
		if domain.IsParseError(err) {
			return nil, nil
		}
		return nil, err
	}
	details := resp.DetailResult.ResultList
	if len(details) == 0 {
		return nil, nil
	}

	// 取时间最新的一条
	latest := details[0]
	latestAt := cjParseTime(latest.DealDate)
	for _, d := range details[1:] {
		if at := cjParseTime(d.DealDate); at.After(latestAt) {
			latest, latestAt = d, at
		}
	}

	raw := latest.StatusNm
	if raw == "" {
		raw = latest.Status
	}
	return &port.TrackingSnapshot{
		Carrier:        cjCode,
		TrackingNumber: trackingNumber,
		Status:         InferStatus(t.codeMap, raw),
		RawStatus:      raw,
		Location:       latest.Location,
		UpdatedAt:      latestAt,
	}, nil
}

// TrackingHistory 返回按时间升序的完整轨迹
func (t *CJTracker) TrackingHistory(ctx context.Context, trackingNumber string) ([]domain.TrackingEvent, error) {
	resp, err := t.fetch(ctx, trackingNumber)
	if err != nil {
		if domain.IsParseError(err) {
			return nil, nil
		}
		return nil, err
	}

	events := make([]domain.TrackingEvent, 0, len(resp.DetailResult.ResultList))
	for _, d := range resp.DetailResult.ResultList {
		raw := d.StatusNm
		if raw == "" {
			raw = d.Status
		}
		events = append(events, domain.TrackingEvent{
			Time:        cjParseTime(d.DealDate),
			Status:      InferStatus(t.codeMap, raw),
			RawStatus:   raw,
			Location:    d.Location,
			Description: d.Remark,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	return events, nil
}
