// internal/fulfillment/infrastructure/carrier/status.go
package carrier

import (
	"strings"

	"dropship/internal/fulfillment/domain"
)

// statusKeywords 原始状态文本里的关键词到统一配送状态的推断表。
// 承运商没给结构化状态码时退化到这张表，按声明顺序命中第一条。
// 顺序有讲究："배송완료" 必须排在 "배송" 前面。
var statusKeywords = []struct {
	keyword string
	status  domain.DeliveryStatus
}{
	{"배송완료", domain.DeliveryStatusDelivered},
	{"배달완료", domain.DeliveryStatusDelivered},
	{"delivered", domain.DeliveryStatusDelivered},
	{"배송출발", domain.DeliveryStatusOutForDelivery},
	{"배달출발", domain.DeliveryStatusOutForDelivery},
	{"out for delivery", domain.DeliveryStatusOutForDelivery},
	{"간선상차", domain.DeliveryStatusInTransit},
	{"간선하차", domain.DeliveryStatusInTransit},
	{"이동중", domain.DeliveryStatusInTransit},
	{"in transit", domain.DeliveryStatusInTransit},
	{"집화", domain.DeliveryStatusPickup},
	{"집하", domain.DeliveryStatusPickup},
	{"인수", domain.DeliveryStatusPickup},
	{"pickup", domain.DeliveryStatusPickup},
	{"미배달", domain.DeliveryStatusFailed},
	{"배송실패", domain.DeliveryStatusFailed},
	{"반송", domain.DeliveryStatusReturned},
	{"반품", domain.DeliveryStatusReturned},
}

// InferStatus 先查承运商配置的状态码表，查不到再按关键词推断，
// 都命中不了时返回 PENDING。
func InferStatus(codeMap map[string]string, rawStatus string) domain.DeliveryStatus {
	if codeMap != nil {
		if mapped, ok := codeMap[rawStatus]; ok {
			return domain.DeliveryStatus(mapped)
		}
	}
	lower := strings.ToLower(rawStatus)
	for _, kw := range statusKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.status
		}
	}
	return domain.DeliveryStatusPending
}
