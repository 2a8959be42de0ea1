// internal/fulfillment/infrastructure/marketplace/helpers.go
package marketplace

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dropship/internal/fulfillment/domain"
)

// mergeStatusCodes 用配置下发的码表覆盖默认码表
func mergeStatusCodes(defaults map[string]domain.OrderStatus, overrides map[string]string) map[string]domain.OrderStatus {
	merged := make(map[string]domain.OrderStatus, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = domain.OrderStatus(v)
	}
	return merged
}

// numberToDecimal 宽容地解析金额，解析不动时按 0 处理
func numberToDecimal(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// timeLayouts 各渠道常见的时间格式，按顺序尝试
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"20060102150405",
	"2006-01-02",
}

// parseTimeLoose 宽容地解析时间，全部失败时返回零值
func parseTimeLoose(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseIntLoose 宽容地解析整数，失败时返回 0
func parseIntLoose(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

// parseDecimalLoose 宽容地解析金额字符串，失败时按 0 处理
func parseDecimalLoose(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
