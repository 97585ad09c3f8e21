package binance

import (
	"errors"

	"github.com/adshao/go-binance/v2/common"

	"tradeloop/internal/pkg/errs"
)

// Binance 业务错误码，只列出会改变错误分类的几个。
const (
	codeUnknownOrder       = -2011
	codeWouldTrigger       = -2021
	codeReduceOnlyRejected = -2022
	codeMaxQtyExceeded     = -2027
	codeMaxPositionLimit   = -2028
	codeQtyTooSmall        = -4003
	codeNotionalTooSmall   = -4164
)

// classify 把 SDK/传输错误转换为 errs.Error，上层只看 Kind。
func classify(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	kind := errs.KindExternalService
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeReduceOnlyRejected:
			kind = errs.KindNoPosition
		case codeQtyTooSmall, codeNotionalTooSmall:
			kind = errs.KindInsufficientSize
		case codeMaxQtyExceeded, codeMaxPositionLimit:
			kind = errs.KindLimitExceeded
		case codeWouldTrigger:
			kind = errs.KindInvalidPrice
		}
	}
	return errs.Wrap(kind, op, symbol, err)
}

func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder
}
