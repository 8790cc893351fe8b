package types

import (
	"errors"
	"fmt"
)

// ErrKind 错误分类
// 所有内部错误在跨出组件边界前必须归入三类之一：
// Abort 业务规则拒绝，不重试；Transient 瞬时故障，有界重试；
// Fatal 程序或数据完整性缺陷，停止处理该订单并告警。
type ErrKind uint8

const (
	KindAbort ErrKind = iota
	KindTransient
	KindFatal
)

func (k ErrKind) String() string {
	switch k {
	case KindAbort:
		return "abort"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DriverError 携带分类的驱动错误
type DriverError struct {
	Kind   ErrKind
	Reason string
	Err    error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Abortf 业务规则拒绝
func Abortf(format string, args ...any) error {
	return &DriverError{Kind: KindAbort, Reason: fmt.Sprintf(format, args...)}
}

// Transientf 瞬时故障
func Transientf(format string, args ...any) error {
	return &DriverError{Kind: KindTransient, Reason: fmt.Sprintf(format, args...)}
}

// Fatalf 不变量被破坏
func Fatalf(format string, args ...any) error {
	return &DriverError{Kind: KindFatal, Reason: fmt.Sprintf(format, args...)}
}

// WrapTransient 将底层错误归为瞬时类
func WrapTransient(reason string, err error) error {
	return &DriverError{Kind: KindTransient, Reason: reason, Err: err}
}

// WrapAbort 将底层错误归为拒绝类
func WrapAbort(reason string, err error) error {
	return &DriverError{Kind: KindAbort, Reason: reason, Err: err}
}

// KindOf 提取错误分类
// 未分类的错误一律按瞬时处理，交给重试上限兜底。
func KindOf(err error) ErrKind {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

func IsAbort(err error) bool {
	return err != nil && KindOf(err) == KindAbort
}

func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}
