package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/services"
	"github.com/yourusername/lightning-gifts/utils"
)

type GiftHandler struct {
	gifts      *services.GiftService
	serviceURL string
}

func NewGiftHandler(gifts *services.GiftService, serviceURL string) *GiftHandler {
	return &GiftHandler{
		gifts:      gifts,
		serviceURL: strings.TrimRight(serviceURL, "/"),
	}
}

type createGiftResponse struct {
	OrderID          string           `json:"orderId"`
	ChargeID         string           `json:"chargeId"`
	Status           string           `json:"status"`
	LightningInvoice lightningInvoice `json:"lightningInvoice"`
	Amount           int64            `json:"amount"`
	Notify           *string          `json:"notify"`
	LNURL            string           `json:"lnurl"`
	SenderName       *string          `json:"senderName"`
	SenderMessage    *string          `json:"senderMessage"`
}

type lightningInvoice struct {
	PayReq string `json:"payreq"`
}

// CreateGift handles POST /create. The body is decoded loosely so that
// wrongly typed fields surface as validation codes rather than bind errors.
func (h *GiftHandler) CreateGift(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": http.StatusBadRequest, "message": "INVALID_JSON"})
		return
	}

	params, err := createParamsFromJSON(body)
	if err != nil {
		respondError(c, err)
		return
	}

	gift, err := h.gifts.CreateGift(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	lnurl, err := utils.BuildGiftLNURL(h.serviceURL, gift.ID, gift.VerifyCode)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, createGiftResponse{
		OrderID:          gift.ID,
		ChargeID:         gift.ChargeID,
		Status:           gift.ChargeStatus(),
		LightningInvoice: lightningInvoice{PayReq: gift.ChargeInvoice},
		Amount:           gift.Amount,
		Notify:           gift.Notify,
		LNURL:            lnurl,
		SenderName:       gift.SenderName,
		SenderMessage:    gift.SenderMessage,
	})
}

// createParamsFromJSON converts a decoded body into creation params. Type
// errors are reported in the same order as the value rules, so a bad amount
// still wins over a non-string sender name.
func createParamsFromJSON(body map[string]any) (services.CreateGiftParams, error) {
	var p services.CreateGiftParams

	switch v := body["amount"].(type) {
	case float64:
		p.Amount = v
	default:
		return p, services.ErrAmountNotWholeNumber
	}

	name, ok := optionalString(body["senderName"])
	if !ok {
		return p, firstError(p, services.ErrSenderNameNotString)
	}
	p.SenderName = name

	message, ok := optionalString(body["senderMessage"])
	if !ok {
		return p, firstError(p, services.ErrSenderMessageNotString)
	}
	p.SenderMessage = message

	notify, ok := optionalString(body["notify"])
	if !ok {
		return p, firstError(p, services.ErrNotifyBadURL)
	}
	p.Notify = notify

	switch v := body["verifyCode"].(type) {
	case nil:
	case float64:
		p.VerifyCode = &v
	default:
		return p, firstError(p, services.ErrVerifyCodeNotNumber)
	}

	return p, nil
}

func optionalString(v any) (*string, bool) {
	switch s := v.(type) {
	case nil:
		return nil, true
	case string:
		return &s, true
	default:
		return nil, false
	}
}

// firstError returns the earliest rule failure among the fields decoded so
// far, falling back to the type error that stopped decoding.
func firstError(p services.CreateGiftParams, typeErr error) error {
	if err := services.ValidateCreateGift(p); err != nil {
		return err
	}
	return typeErr
}

type withdrawalInfo struct {
	Invoice   string     `json:"invoice,omitempty"`
	ID        string     `json:"id,omitempty"`
	Fee       int64      `json:"fee"`
	Error     string     `json:"error,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type giftResponse struct {
	OrderID        string            `json:"orderId"`
	Amount         int64             `json:"amount"`
	Status         models.GiftStatus `json:"status"`
	ChargeID       string            `json:"chargeId"`
	ChargeStatus   string            `json:"chargeStatus"`
	ChargeInvoice  string            `json:"chargeInvoice"`
	Spent          any               `json:"spent"`
	WithdrawalInfo *withdrawalInfo   `json:"withdrawalInfo,omitempty"`
	SenderName     *string           `json:"senderName"`
	SenderMessage  *string           `json:"senderMessage"`
	Notify         *string           `json:"notify"`
	CreatedAt      time.Time         `json:"createdAt"`
	LNURL          string            `json:"lnurl,omitempty"`
}

func newGiftResponse(gift *models.Gift) giftResponse {
	resp := giftResponse{
		OrderID:       gift.ID,
		Amount:        gift.Amount,
		Status:        gift.Status,
		ChargeID:      gift.ChargeID,
		ChargeStatus:  gift.ChargeStatus(),
		ChargeInvoice: gift.ChargeInvoice,
		Spent:         gift.Spent(),
		SenderName:    gift.SenderName,
		SenderMessage: gift.SenderMessage,
		Notify:        gift.Notify,
		CreatedAt:     gift.CreatedAt,
	}
	if gift.WithdrawalInvoice != "" || gift.WithdrawalError != "" {
		resp.WithdrawalInfo = &withdrawalInfo{
			Invoice:   gift.WithdrawalInvoice,
			ID:        gift.WithdrawalID,
			Fee:       gift.WithdrawalFee,
			Error:     gift.WithdrawalError,
			CreatedAt: gift.WithdrawalCreatedAt,
		}
	}
	return resp
}

// GetGift handles GET /gift/:giftId. Without the right verify code only the
// locked projection is returned.
func (h *GiftHandler) GetGift(c *gin.Context) {
	view, err := h.gifts.GetGift(c.Request.Context(), c.Param("giftId"), c.Query("verifyCode"))
	if err != nil {
		respondError(c, err)
		return
	}
	gift := view.Gift

	if view.Locked {
		c.JSON(http.StatusOK, gin.H{
			"amount":             gift.Amount,
			"chargeStatus":       gift.ChargeStatus(),
			"spent":              gift.Spent(),
			"orderId":            gift.ID,
			"verifyCodeRequired": true,
		})
		return
	}

	resp := newGiftResponse(gift)
	lnurl, err := utils.BuildGiftLNURL(h.serviceURL, gift.ID, gift.VerifyCode)
	if err != nil {
		respondError(c, err)
		return
	}
	resp.LNURL = lnurl
	c.JSON(http.StatusOK, resp)
}

type redeemRequest struct {
	Invoice    string `json:"invoice"`
	VerifyCode any    `json:"verifyCode"`
}

// Redeem handles POST /redeem/:giftId.
func (h *GiftHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.ErrMalformedInvoice)
		return
	}

	claim, err := h.gifts.ClaimRedemption(c.Request.Context(), services.ClaimRequest{
		GiftID:     c.Param("giftId"),
		Invoice:    req.Invoice,
		VerifyCode: verifyCodeString(req.VerifyCode),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"withdrawalId": claim.WithdrawalID})
}

func verifyCodeString(v any) string {
	switch code := v.(type) {
	case string:
		return code
	case float64:
		return strconv.FormatFloat(code, 'f', -1, 64)
	default:
		return ""
	}
}

// ChargeStatus handles GET /status/:chargeId, polling the processor for
// gifts still awaiting funding.
func (h *GiftHandler) ChargeStatus(c *gin.Context) {
	gift, err := h.gifts.RefreshFunding(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": gift.ChargeStatus()})
}

// RedeemStatus handles POST /redeemStatus/:withdrawalId.
func (h *GiftHandler) RedeemStatus(c *gin.Context) {
	gift, err := h.gifts.RedeemStatus(c.Request.Context(), c.Param("withdrawalId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": gift.WithdrawalID, "status": withdrawalStatus(gift)})
}

func withdrawalStatus(gift *models.Gift) string {
	switch gift.Status {
	case models.GiftStatusSettled:
		return string(utils.WithdrawalStateSettled)
	case models.GiftStatusPending:
		return string(utils.WithdrawalStatePending)
	default:
		return string(utils.WithdrawalStateFailed)
	}
}

var firstSubdomain = regexp.MustCompile(`//[^.]+\.`)

// View handles GET /view/:giftId by redirecting to the redeem page on the
// service's parent domain.
func (h *GiftHandler) View(c *gin.Context) {
	c.Redirect(http.StatusFound, redeemPageBase(h.serviceURL)+"/redeem/"+c.Param("giftId"))
}

// redeemPageBase strips the first subdomain: https://api.example.com
// becomes https://example.com.
func redeemPageBase(serviceURL string) string {
	loc := firstSubdomain.FindStringIndex(serviceURL)
	if loc == nil {
		return serviceURL
	}
	return serviceURL[:loc[0]] + "//" + serviceURL[loc[1]:]
}
