package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/lightning-gifts/services"
)

const (
	minSendableMsat = services.MinGiftAmount * 1000
	maxSendableMsat = services.MaxGiftAmount * 1000
)

// LNURLPay handles GET /lnurl. The first call returns the payRequest
// parameters; the wallet's callback (with amount in msat) creates the gift
// and returns its funding invoice.
func (h *GiftHandler) LNURLPay(c *gin.Context) {
	senderName := optionalQuery(c, "senderName")
	senderMessage := optionalQuery(c, "senderMessage")
	notify := optionalQuery(c, "notify")
	verifyCode := optionalQuery(c, "verifyCode")

	metadata, err := payMetadata(senderName, senderMessage, verifyCode, notify)
	if err != nil {
		respondLNURLError(c, err)
		return
	}

	msat := c.Query("amount")
	if msat == "" {
		params := url.Values{}
		setIfPresent(params, "senderName", senderName)
		setIfPresent(params, "senderMessage", senderMessage)
		setIfPresent(params, "notify", notify)
		setIfPresent(params, "verifyCode", verifyCode)
		callback := h.serviceURL + "/lnurl"
		if qs := params.Encode(); qs != "" {
			callback += "?" + qs
		}

		c.JSON(http.StatusOK, gin.H{
			"minSendable": minSendableMsat,
			"maxSendable": maxSendableMsat,
			"tag":         "payRequest",
			"metadata":    metadata,
			"callback":    callback,
		})
		return
	}

	params := services.CreateGiftParams{
		Amount:        msatToSats(msat),
		SenderName:    senderName,
		SenderMessage: senderMessage,
		Notify:        notify,
		Metadata:      metadata,
	}
	if verifyCode != nil {
		code, err := strconv.ParseFloat(*verifyCode, 64)
		if err != nil {
			respondLNURLError(c, firstError(params, services.ErrVerifyCodeNotNumber))
			return
		}
		params.VerifyCode = &code
	}

	gift, err := h.gifts.CreateGift(c.Request.Context(), params)
	if err != nil {
		respondLNURLError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pr": gift.ChargeInvoice,
		"successAction": gin.H{
			"tag":         "url",
			"description": "Here's your gift URL",
			"url":         h.serviceURL + "/view/" + gift.ID,
		},
		"disposable": false,
		"routes":     []any{},
	})
}

// LNURLWithdraw handles GET /lnurl/:giftId. Without pr it returns the
// withdrawRequest parameters; with pr it redeems the gift to that invoice.
func (h *GiftHandler) LNURLWithdraw(c *gin.Context) {
	giftID := c.Param("giftId")
	verifyCode := c.Query("verifyCode")

	invoice := c.Query("pr")
	if invoice == "" {
		view, err := h.gifts.GetGift(c.Request.Context(), giftID, verifyCode)
		if err != nil {
			respondLNURLError(c, err)
			return
		}
		callback := h.serviceURL + "/lnurl/" + url.PathEscape(giftID)
		if verifyCode != "" {
			callback += "?verifyCode=" + url.QueryEscape(verifyCode)
		}
		msat := view.Gift.Amount * 1000

		c.JSON(http.StatusOK, gin.H{
			"status":             "OK",
			"callback":           callback,
			"k1":                 giftID,
			"maxWithdrawable":    msat,
			"minWithdrawable":    msat,
			"defaultDescription": fmt.Sprintf("lightning.gifts redeem %s", giftID),
			"tag":                "withdrawRequest",
		})
		return
	}

	_, err := h.gifts.ClaimRedemption(c.Request.Context(), services.ClaimRequest{
		GiftID:     giftID,
		Invoice:    invoice,
		VerifyCode: verifyCode,
	})
	if err != nil {
		respondLNURLError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// payMetadata builds the LNURL-pay metadata whose hash the funding invoice
// commits to.
func payMetadata(senderName, senderMessage, verifyCode, notify *string) (string, error) {
	text := "Create a Lightning Gift"
	if senderName != nil {
		text += fmt.Sprintf(" from %q", *senderName)
	}
	if senderMessage != nil {
		text += fmt.Sprintf(" with message %q", *senderMessage)
	}
	if verifyCode != nil {
		text += fmt.Sprintf(" secured by code %q", *verifyCode)
	}
	if notify != nil {
		text += fmt.Sprintf(" that will post a webhook to %q when redeemed", *notify)
	}
	text += "."

	raw, err := json.Marshal([][]string{{"text/plain", text}})
	if err != nil {
		return "", fmt.Errorf("failed to encode lnurl metadata: %w", err)
	}
	return string(raw), nil
}

// msatToSats converts a millisatoshi query value; unparsable input yields
// NaN so it fails the whole-number rule.
func msatToSats(raw string) float64 {
	msat, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return msat / 1000
}

func optionalQuery(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

func setIfPresent(values url.Values, key string, v *string) {
	if v != nil {
		values.Set(key, *v)
	}
}
