// internal/fulfillment/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateOrder 表示 (marketplace, marketplace_order_id) 已存在，幂等摄取时直接跳过
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrOrderNotFound 仓储中找不到对应订单
	ErrOrderNotFound = errors.New("order not found")
	// ErrAdapterNotRegistered 配置了某个渠道但没有注册对应的适配器，属于配置错误，让整个任务失败
	ErrAdapterNotRegistered = errors.New("no adapter registered for marketplace")
	// ErrInvalidTransition 状态机拒绝了一次流转
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError 表示调用方的入参违反了渠道约束（例如拉单窗口超过渠道上限）。
// 这种错误在发起任何网络请求之前就会返回。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError 创建一个校验错误
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ChannelError 表示外部平台返回了业务层面的失败码。
// 它在适配器边界被捕获，携带平台原始错误码和消息，不会作为裸异常继续向上抛。
type ChannelError struct {
	Channel string // 渠道/供应商/承运商编码
	Code    string // 平台返回的原始错误码
	Message string // 平台返回的原始错误消息
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s returned error %s: %s", e.Channel, e.Code, e.Message)
}

// NewChannelError 创建一个渠道错误
func NewChannelError(channel, code, message string) *ChannelError {
	return &ChannelError{Channel: channel, Code: code, Message: message}
}

// TransientError 表示连接/超时一类的瞬时网络错误。
// 适配器内部会做有限次数的固定间隔重试；重试耗尽后降级为 ChannelError 处理。
type TransientError struct {
	Channel string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure calling %s: %v", e.Channel, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError 创建一个瞬时错误
func NewTransientError(channel string, err error) *TransientError {
	return &TransientError{Channel: channel, Err: err}
}

// ParseError 表示承运商返回的报文无法解析（抓取页面改版等）。
// 追踪器遇到它时按"无数据"处理，不会中断其它承运商的轮询。
type ParseError struct {
	Carrier string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("carrier %s response unparseable: %s", e.Carrier, e.Reason)
}

// NewParseError 创建一个解析错误
func NewParseError(carrier, reason string) *ParseError {
	return &ParseError{Carrier: carrier, Reason: reason}
}

// IsTransient 判断错误链上是否存在瞬时网络错误
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsChannelError 判断错误链上是否存在渠道业务错误
func IsChannelError(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}

// IsValidation 判断错误链上是否存在入参校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsParseError 判断错误链上是否存在报文解析错误
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
