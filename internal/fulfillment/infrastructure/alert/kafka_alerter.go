// internal/fulfillment/infrastructure/alert/kafka_alerter.go
package alert

import (
	"context"
	"encoding/json"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"dropship/internal/pkg/mq"
	"dropship/internal/pkg/tracing"
)

// Alert 一条运营告警，消费方是告警网关
type Alert struct {
	Severity  string    `json:"severity"` // "warning" | "critical"
	Source    string    `json:"source"`   // 产生告警的作业或渠道
	OrderID   string    `json:"order_id,omitempty"`
	Message   string    `json:"message"`
	TraceID   string    `json:"trace_id,omitempty"` // 关联 jaeger 里的作业 trace
	CreatedAt time.Time `json:"created_at"`
}

// KafkaAlerter 把告警和作业统计发到 kafka。
// 告警发送失败只记日志，绝不反过来影响业务流程。
type KafkaAlerter struct {
	alertWriter *kafka.Writer
	statsWriter *kafka.Writer
}

func NewKafkaAlerter(brokers []string, alertTopic, statsTopic string) *KafkaAlerter {
	return &KafkaAlerter{
		alertWriter: mq.NewKafkaWriter(brokers, alertTopic),
		statsWriter: mq.NewKafkaWriter(brokers, statsTopic),
	}
}

// fill 补全缺省字段，trace id 取自当前作业的 span
func (alert Alert) fill(ctx context.Context) Alert {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	if alert.TraceID == "" {
		alert.TraceID = tracing.GetTraceIDFromContext(ctx)
	}
	return alert
}

// Send 发送一条告警
func (a *KafkaAlerter) Send(ctx context.Context, alert Alert) {
	alert = alert.fill(ctx)
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := mq.ProduceMessage(ctx, a.alertWriter, []byte(alert.Source), payload); err != nil {
		zlog.Ctx(ctx).Error().Err(err).
			Str("source", alert.Source).
			Msg("failed to publish alert")
	}
}

// Alert 组装并发送一条告警，给 application 层的窄接口用
func (a *KafkaAlerter) Alert(ctx context.Context, severity, source, orderID, message string) {
	a.Send(ctx, Alert{
		Severity: severity,
		Source:   source,
		OrderID:  orderID,
		Message:  message,
	})
}

// PublishStats 发送一次作业执行统计，key 是作业名，保证同作业有序
func (a *KafkaAlerter) PublishStats(ctx context.Context, jobName string, stats interface{}) {
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := mq.ProduceMessage(ctx, a.statsWriter, []byte(jobName), payload); err != nil {
		zlog.Ctx(ctx).Error().Err(err).
			Str("job", jobName).
			Msg("failed to publish job stats")
	}
}

// Close 关闭底层 writer
func (a *KafkaAlerter) Close() error {
	if err := a.alertWriter.Close(); err != nil {
		return err
	}
	return a.statsWriter.Close()
}
