// Package errs 定义执行链路上的封闭错误分类。
//
// 交易所 SDK、数据库驱动的错误都在边界处转换为 *Error，上层（风控、调度）
// 只依赖 Kind，不依赖任何具体库的错误类型。
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindExternalService
	KindNoPosition
	KindInsufficientSize
	KindLimitExceeded
	KindInvalidPrice
	KindLedgerIO
)

func (k Kind) String() string {
	switch k {
	case KindExternalService:
		return "external_service"
	case KindNoPosition:
		return "no_position"
	case KindInsufficientSize:
		return "insufficient_size"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindInvalidPrice:
		return "invalid_price"
	case KindLedgerIO:
		return "ledger_io"
	default:
		return "unknown"
	}
}

// 哨兵值，配合 errors.Is 使用：errors.Is(err, errs.ErrNoPosition)。
var (
	ErrExternalService  = &Error{Kind: KindExternalService}
	ErrNoPosition       = &Error{Kind: KindNoPosition}
	ErrInsufficientSize = &Error{Kind: KindInsufficientSize}
	ErrLimitExceeded    = &Error{Kind: KindLimitExceeded}
	ErrInvalidPrice     = &Error{Kind: KindInvalidPrice}
	ErrLedgerIO         = &Error{Kind: KindLedgerIO}
)

type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 4)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Symbol != "" {
		parts = append(parts, e.Symbol)
	}
	head := e.Kind.String()
	if len(parts) > 0 {
		head = strings.Join(parts, " ") + ": " + head
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", head, e.Msg, e.Err)
	case e.Msg != "":
		return head + ": " + e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", head, e.Err)
	default:
		return head
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is 只比较 Kind，使哨兵值可以匹配任意同类错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op, symbol, msg string) *Error {
	return &Error{Kind: kind, Op: op, Symbol: symbol, Msg: msg}
}

func Wrap(kind Kind, op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind != KindUnknown {
		return err
	}
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

// KindOf 返回错误链上第一个已分类的 Kind；未分类返回 KindUnknown。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
