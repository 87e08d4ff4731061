package exchange

import (
	"errors"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// IsRetryable 判断交易所调用错误是否可重试（网络抖动、限流等）。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}

// ClassifyReject 将下单错误归入封闭的拒单分类。
// 交易所侧的文案并不稳定，这里同时检查 ccxt 错误类型与消息关键字。
func ClassifyReject(err error) (RejectReason, string) {
	if err == nil {
		return RejectOther, ""
	}

	message := err.Error()
	lower := strings.ToLower(message)

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.InsufficientFundsErrType:
			return RejectInsufficientFunds, message
		case ccxt.InvalidOrderErrType, ccxt.OrderNotFillableErrType:
			// post-only 与最小下单量都会以 InvalidOrder 形式出现，按文案细分。
		}
	}

	switch {
	case strings.Contains(lower, "insufficient funds"):
		return RejectInsufficientFunds, message
	case strings.Contains(lower, "post only") || strings.Contains(lower, "post_only"):
		return RejectPostOnly, message
	case strings.Contains(lower, "too small") || strings.Contains(lower, "minimum size"):
		return RejectTooSmall, message
	default:
		return RejectOther, message
	}
}

// IsCancelTooLate 判断撤单失败是否因为订单已经完成。
// 撤单与成交天然存在竞态，这种失败不算错误。
func IsCancelTooLate(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if ccxtErr.Type == ccxt.OrderNotFoundErrType {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "already done") ||
		strings.Contains(lower, "already filled") ||
		strings.Contains(lower, "order not found") ||
		strings.Contains(lower, "too late")
}
