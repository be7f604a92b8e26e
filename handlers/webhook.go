package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/yourusername/lightning-gifts/services"
)

type WebhookHandler struct {
	reconciler *services.Reconciler
	walletID   string
}

func NewWebhookHandler(reconciler *services.Reconciler, walletID string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, walletID: walletID}
}

// lnpayWebhook is the subset of an LNPay wallet transaction notification
// the service reads.
type lnpayWebhook struct {
	Event struct {
		Name string `json:"name"`
	} `json:"event"`
	Data struct {
		Wtx struct {
			Wal struct {
				ID string `json:"id"`
			} `json:"wal"`
			PassThru struct {
				GiftID  string `json:"giftId"`
				ClaimID string `json:"claimId"`
			} `json:"passThru"`
			LnTx struct {
				ID          string `json:"id"`
				Settled     int    `json:"settled"`
				NumSatoshis int64  `json:"num_satoshis"`
				FeeMsat     int64  `json:"fee_msat"`
			} `json:"lnTx"`
		} `json:"wtx"`
	} `json:"data"`
}

// Handle serves POST /webhook/:wallet. Non-2xx responses make the processor
// redeliver, so only infrastructure failures return 500. Deliveries for
// another wallet are acknowledged and dropped.
func (h *WebhookHandler) Handle(c *gin.Context) {
	if wallet := c.Param("wallet"); wallet != h.walletID {
		log.WithField("wallet_id", wallet).Debug("webhook for another wallet acknowledged")
		c.Status(http.StatusOK)
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	var payload lnpayWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.WithError(err).Warn("undecodable webhook acknowledged")
		c.Status(http.StatusOK)
		return
	}

	wtx := payload.Data.Wtx
	err = h.reconciler.Handle(c.Request.Context(), services.WebhookEvent{
		Type:         payload.Event.Name,
		WalletID:     wtx.Wal.ID,
		GiftID:       wtx.PassThru.GiftID,
		ClaimID:      wtx.PassThru.ClaimID,
		ExternalTxID: wtx.LnTx.ID,
		Settled:      wtx.LnTx.Settled == 1,
		Amount:       wtx.LnTx.NumSatoshis,
		Fee:          wtx.LnTx.FeeMsat / 1000,
		Payload:      raw,
	})
	if err != nil {
		log.WithFields(log.Fields{"event": payload.Event.Name, "gift_id": wtx.PassThru.GiftID}).WithError(err).Error("webhook processing failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}
