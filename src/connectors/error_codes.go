package connectors

import (
	"fmt"
	"net/http"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
)

// BinanceErrorCodes maps Binance futures error codes to the failure kind the core acts on.
var BinanceErrorCodes = map[int]exchange.Kind{
	-1001: exchange.KindTransient,           // DISCONNECTED
	-1003: exchange.KindRateLimited,         // TOO_MANY_REQUESTS
	-1007: exchange.KindTransient,           // TIMEOUT waiting for backend
	-1013: exchange.KindPrecision,           // filter failure
	-1021: exchange.KindTransient,           // timestamp outside recvWindow
	-1022: exchange.KindAuth,                // INVALID_SIGNATURE
	-1111: exchange.KindPrecision,           // BAD_PRECISION
	-1121: exchange.KindSymbolNotTradeable,  // BAD_SYMBOL
	-2011: exchange.KindOrderNotFound,       // CANCEL_REJECTED (unknown order)
	-2013: exchange.KindOrderNotFound,       // NO_SUCH_ORDER
	-2014: exchange.KindAuth,                // BAD_API_KEY_FMT
	-2015: exchange.KindAuth,                // REJECTED_MBX_KEY
	-2018: exchange.KindInsufficientBalance, // BALANCE_NOT_SUFFICIENT
	-2019: exchange.KindInsufficientBalance, // MARGIN_NOT_SUFFICIEN
	-2021: exchange.KindRejected,            // ORDER_WOULD_IMMEDIATELY_TRIGGER
	-2022: exchange.KindRejected,            // REDUCE_ONLY_REJECT
	-4003: exchange.KindPrecision,           // QTY_LESS_THAN_ZERO
	-4014: exchange.KindPrecision,           // PRICE_NOT_INCREASED_BY_TICK_SIZE
	-4023: exchange.KindPrecision,           // QTY_NOT_INCREASED_BY_STEP_SIZE
	-4140: exchange.KindSymbolNotTradeable,  // INVALID_SYMBOL_STATUS
	-4164: exchange.KindPrecision,           // MIN_NOTIONAL
}

// BybitErrorCodes maps Bybit v5 retCodes to the failure kind the core acts on.
var BybitErrorCodes = map[int]exchange.Kind{
	10001:  exchange.KindRejected,            // parameter error
	10002:  exchange.KindTransient,           // request time exceeds the time window
	10003:  exchange.KindAuth,                // invalid api key
	10004:  exchange.KindAuth,                // sign error
	10005:  exchange.KindAuth,                // permission denied
	10006:  exchange.KindRateLimited,         // too many visits
	10016:  exchange.KindTransient,           // server error
	110001: exchange.KindOrderNotFound,       // order does not exist
	110003: exchange.KindPrecision,           // price out of permissible range
	110004: exchange.KindInsufficientBalance, // wallet balance insufficient
	110007: exchange.KindInsufficientBalance, // available balance insufficient
	110017: exchange.KindRejected,            // reduce-only rule not satisfied
	110045: exchange.KindInsufficientBalance, // unified margin insufficient
	110094: exchange.KindPrecision,           // order does not meet minimum notional
}

// classify builds the typed error for an exchange code, falling back on the HTTP status.
func classify(exchangeName, op string, httpStatus, code int, msg string, codes map[int]exchange.Kind) *exchange.Error {
	kind, ok := codes[code]
	if !ok {
		switch {
		case httpStatus == http.StatusTooManyRequests || httpStatus == http.StatusTeapot:
			kind = exchange.KindRateLimited
		case httpStatus >= 500 || httpStatus == http.StatusRequestTimeout:
			kind = exchange.KindTransient
		case httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden:
			kind = exchange.KindAuth
		case httpStatus >= 400:
			kind = exchange.KindRejected
		default:
			kind = exchange.KindUnknown
		}
	}
	return &exchange.Error{
		Kind:     kind,
		Exchange: exchangeName,
		Op:       op,
		Code:     code,
		Msg:      msg,
	}
}

// transportError wraps a network failure that survived the resty retries.
func transportError(exchangeName, op string, err error) *exchange.Error {
	return &exchange.Error{
		Kind:     exchange.KindTransient,
		Exchange: exchangeName,
		Op:       op,
		Msg:      fmt.Sprintf("transport: %v", err),
		Err:      err,
	}
}
