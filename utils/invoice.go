package utils

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrMalformedInvoice = errors.New("malformed invoice")

// Longest prefix first so that regtest invoices are not read as mainnet.
var invoiceNetworkPrefixes = []string{"lnbcrt", "lnbc", "lntb"}

// DecodeInvoiceAmount returns the amount in satoshis encoded in the
// human-readable part of a BOLT-11 payment request. Only the n, u and m
// multipliers are accepted; amountless invoices, pico amounts and
// sub-satoshi nano amounts are rejected rather than rounded.
func DecodeInvoiceAmount(invoice string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(invoice))
	s = strings.TrimPrefix(s, "lightning:")

	var rest string
	for _, prefix := range invoiceNetworkPrefixes {
		if strings.HasPrefix(s, prefix) {
			rest = strings.TrimPrefix(s, prefix)
			break
		}
	}
	if rest == "" {
		return 0, fmt.Errorf("%w: unknown network prefix", ErrMalformedInvoice)
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(rest) {
		return 0, fmt.Errorf("%w: missing amount", ErrMalformedInvoice)
	}
	if i+1 >= len(rest) || rest[i+1] != '1' {
		return 0, fmt.Errorf("%w: missing separator after amount", ErrMalformedInvoice)
	}

	mantissa, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil || mantissa <= 0 {
		return 0, fmt.Errorf("%w: bad amount %q", ErrMalformedInvoice, rest[:i])
	}

	switch rest[i] {
	case 'n':
		// 1 nano-BTC is 0.1 satoshi
		if mantissa%10 != 0 {
			return 0, fmt.Errorf("%w: sub-satoshi amount", ErrMalformedInvoice)
		}
		return mantissa / 10, nil
	case 'u':
		return shiftAmount(mantissa, 100)
	case 'm':
		return shiftAmount(mantissa, 100_000)
	default:
		return 0, fmt.Errorf("%w: unsupported multiplier %q", ErrMalformedInvoice, rest[i])
	}
}

func shiftAmount(mantissa, factor int64) (int64, error) {
	if mantissa > math.MaxInt64/factor {
		return 0, fmt.Errorf("%w: amount overflow", ErrMalformedInvoice)
	}
	return mantissa * factor, nil
}
