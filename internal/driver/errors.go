package driver

import (
	"errors"
	"fmt"
)

// 平台层返回的哨兵错误，由各平台实现映射自系统错误码。
var (
	ErrServiceExists    = errors.New("服务已存在")
	ErrServiceRunning   = errors.New("服务已在运行")
	ErrServiceNotFound  = errors.New("服务不存在")
	ErrServiceNotActive = errors.New("服务未运行")
	ErrUnsupported      = errors.New("仅支持 Windows")
	ErrNotOpen          = errors.New("设备未打开")
)

// ErrorKind 失败分类。
type ErrorKind int

const (
	PathResolutionFailed ErrorKind = iota + 1
	ExtractionFailed
	ServiceAlreadyExists
	ServiceCreateFailed
	ServiceStartFailed
	HandleOpenFailed
	ControlRequestRejected
	ControlRequestFailed
)

func (k ErrorKind) String() string {
	switch k {
	case PathResolutionFailed:
		return "PathResolutionFailed"
	case ExtractionFailed:
		return "ExtractionFailed"
	case ServiceAlreadyExists:
		return "ServiceAlreadyExists"
	case ServiceCreateFailed:
		return "ServiceCreateFailed"
	case ServiceStartFailed:
		return "ServiceStartFailed"
	case HandleOpenFailed:
		return "HandleOpenFailed"
	case ControlRequestRejected:
		return "ControlRequestRejected"
	case ControlRequestFailed:
		return "ControlRequestFailed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error 带分类的失败。
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is 允许 errors.Is(err, &Error{Kind: k}) 按分类匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// KindOf 返回 err 链上第一个 *Error 的分类，没有时返回 0。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
