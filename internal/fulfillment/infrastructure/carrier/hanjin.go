// internal/fulfillment/infrastructure/carrier/hanjin.go
package carrier

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"dropship/internal/fulfillment/domain"
	"dropship/internal/fulfillment/domain/port"
	"dropship/internal/pkg/httpclient"
)

const hanjinCode = "hanjin"

// 轨迹表每行四列：日期、时间、位置、状态文本
var (
	hanjinRowRe  = regexp.MustCompile(`(?s)<tr[^>]*>(.*?)</tr>`)
	hanjinCellRe = regexp.MustCompile(`(?s)<td[^>]*>(.*?)</td>`)
	hanjinTagRe  = regexp.MustCompile(`<[^>]+>`)
)

// HanjinTracker 没有公开的查询 API，从运单查询页面抓取轨迹表。
// 页面结构变更导致解析不到数据时按无数据处理，不让轮询崩溃。
type HanjinTracker struct {
	baseURL string
	codeMap map[string]string
	client  *httpclient.Client
}

func NewHanjinTracker(baseURL string, codeMap map[string]string, client *httpclient.Client) *HanjinTracker {
	return &HanjinTracker{baseURL: baseURL, codeMap: codeMap, client: client}
}

func (t *HanjinTracker) Code() string { return hanjinCode }

func (t *HanjinTracker) fetchPage(ctx context.Context, trackingNumber string) (string, error) {
	query := url.Values{}
	query.Set("wblnum", trackingNumber)
	query.Set("mCode", "MN038")

	resp, err := t.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    t.baseURL + "/kor/CMS/DeliveryMgr/WaybillResult.do",
		Query:  query,
	})
	if err != nil {
		return "", domain.NewTransientError(hanjinCode, err)
	}
	if resp.StatusCode >= 400 {
		return "", domain.NewChannelError(hanjinCode,
			fmt.Sprintf("HTTP_%d", resp.StatusCode), "tracking page rejected request")
	}
	return string(resp.Body), nil
}

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(hanjinTagRe.ReplaceAllString(s, "")))
}

// parseEvents 从轨迹表抽取事件，列数不对的行直接跳过
func (t *HanjinTracker) parseEvents(page string) []domain.TrackingEvent {
	var events []domain.TrackingEvent
	for _, row := range hanjinRowRe.FindAllStringSubmatch(page, -1) {
		cells := hanjinCellRe.FindAllStringSubmatch(row[1], -1)
		if len(cells) < 4 {
			continue
		}
		date := stripTags(cells[0][1])
		clock := stripTags(cells[1][1])
		location := stripTags(cells[2][1])
		rawStatus := stripTags(cells[3][1])
		if date == "" || rawStatus == "" {
			continue
		}

		at, err := time.Parse("2006-01-02 15:04", date+" "+clock)
		if err != nil {
			at, err = time.Parse("2006-01-02", date)
			if err != nil {
				continue
			}
		}
		events = append(events, domain.TrackingEvent{
			Time:      at,
			Status:    InferStatus(t.codeMap, rawStatus),
			RawStatus: rawStatus,
			Location:  location,
		})
	}
	return events
}

// Track 返回运单当前状态，页面上没有轨迹时返回 (nil, nil)
func (t *HanjinTracker) Track(ctx context.Context, trackingNumber string) (*port.TrackingSnapshot, error) {
	page, err := t.fetchPage(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	events := t.parseEvents(page)
	if len(events) == 0 {
		return nil, nil
	}

	latest := events[0]
	for _, e := range events[1:] {
		if e.Time.After(latest.Time) {
			latest = e
		}
	}
	return &port.TrackingSnapshot{
		Carrier:        hanjinCode,
		TrackingNumber: trackingNumber,
		Status:         latest.Status,
		RawStatus:      latest.RawStatus,
		Location:       latest.Location,
		UpdatedAt:      latest.Time,
	}, nil
}

// TrackingHistory 返回按时间升序的完整轨迹
func (t *HanjinTracker) TrackingHistory(ctx context.Context, trackingNumber string) ([]domain.TrackingEvent, error) {
	page, err := t.fetchPage(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	events := t.parseEvents(page)
	// 页面轨迹不保证顺序，这里统一按时间升序
	sort.Slice(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	return events, nil
}
