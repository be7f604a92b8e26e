package utils

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLNURLRoundTrip(t *testing.T) {
	raw := "https://api.example.com/lnurl/" + strings.Repeat("ab", 24) + "?verifyCode=1234"

	encoded, err := EncodeLNURL(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "lnurl1"))

	decoded, err := DecodeLNURL(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	// wallets commonly display LNURLs uppercased
	decoded, err = DecodeLNURL(strings.ToUpper(encoded))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDecodeLNURLWrongPrefix(t *testing.T) {
	other, err := bech32.EncodeFromBase256("lnbc", []byte("https://example.com"))
	require.NoError(t, err)

	_, err = DecodeLNURL(other)
	assert.Error(t, err)
}

func TestGiftWithdrawURL(t *testing.T) {
	code := 4321

	assert.Equal(t, "https://api.example.com/lnurl/gift1", GiftWithdrawURL("https://api.example.com/", "gift1", nil))
	assert.Equal(t, "https://api.example.com/lnurl/gift1?verifyCode=4321", GiftWithdrawURL("https://api.example.com", "gift1", &code))

	lnurl, err := BuildGiftLNURL("https://api.example.com", "gift1", &code)
	require.NoError(t, err)
	decoded, err := DecodeLNURL(lnurl)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/lnurl/gift1?verifyCode=4321", decoded)
}

func TestDescriptionHash(t *testing.T) {
	// sha256("")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", DescriptionHash(""))
	assert.Len(t, DescriptionHash(`[["text/plain","Create a Lightning Gift."]]`), 64)
}
