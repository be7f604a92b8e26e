package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const lnurlHRP = "lnurl"

// EncodeLNURL bech32-encodes a callback URL under the lnurl prefix.
func EncodeLNURL(rawURL string) (string, error) {
	encoded, err := bech32.EncodeFromBase256(lnurlHRP, []byte(rawURL))
	if err != nil {
		return "", fmt.Errorf("failed to encode lnurl: %w", err)
	}
	return encoded, nil
}

// DecodeLNURL reverses EncodeLNURL.
func DecodeLNURL(lnurl string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", fmt.Errorf("failed to decode lnurl: %w", err)
	}
	if hrp != lnurlHRP {
		return "", fmt.Errorf("failed to decode lnurl: unexpected prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("failed to decode lnurl: %w", err)
	}
	return string(raw), nil
}

// GiftWithdrawURL is the LNURL-withdraw endpoint for a gift.
func GiftWithdrawURL(serviceURL, giftID string, verifyCode *int) string {
	u := strings.TrimRight(serviceURL, "/") + "/lnurl/" + url.PathEscape(giftID)
	if verifyCode != nil {
		u += "?verifyCode=" + strconv.Itoa(*verifyCode)
	}
	return u
}

// BuildGiftLNURL returns the bech32 LNURL-withdraw string for a gift.
func BuildGiftLNURL(serviceURL, giftID string, verifyCode *int) (string, error) {
	return EncodeLNURL(GiftWithdrawURL(serviceURL, giftID, verifyCode))
}

// DescriptionHash is the hex sha256 committed to by LNURL-pay invoices.
func DescriptionHash(metadata string) string {
	sum := sha256.Sum256([]byte(metadata))
	return hex.EncodeToString(sum[:])
}
