package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/services"
	"github.com/yourusername/lightning-gifts/store"
)

const (
	defaultAdminListLimit = 50
	maxAdminListLimit     = 500
)

// AdminHandler serves the operator API. Every route sits behind operator
// JWT auth.
type AdminHandler struct {
	gifts *services.GiftService
	store services.GiftStore
}

func NewAdminHandler(gifts *services.GiftService, giftStore services.GiftStore) *AdminHandler {
	return &AdminHandler{gifts: gifts, store: giftStore}
}

// ListGifts handles GET /admin/gifts?status=&since=&limit=.
func (h *AdminHandler) ListGifts(c *gin.Context) {
	status := models.GiftStatus(c.DefaultQuery("status", string(models.GiftStatusPending)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	limit := defaultAdminListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxAdminListLimit)
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since, expected RFC3339"})
			return
		}
		since = t
	}

	gifts, err := h.store.ListByStatus(c.Request.Context(), store.ListQuery{Status: status, Since: since, Limit: limit})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch gifts"})
		return
	}

	items := make([]giftResponse, 0, len(gifts))
	for i := range gifts {
		items = append(items, newGiftResponse(&gifts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"gifts": items, "count": len(items)})
}

// ReconcileGift handles POST /admin/gifts/:giftId/reconcile: asks the
// processor for the current state of whichever half of the lifecycle is
// unresolved.
func (h *AdminHandler) ReconcileGift(c *gin.Context) {
	ctx := c.Request.Context()
	view, err := h.gifts.GetGift(ctx, c.Param("giftId"), "")
	if err != nil {
		respondError(c, err)
		return
	}

	gift := view.Gift
	switch gift.Status {
	case models.GiftStatusAwaitingFunding:
		gift, err = h.gifts.RefreshFunding(ctx, gift.ChargeID)
	case models.GiftStatusPending:
		gift, err = h.gifts.PollRedemption(ctx, gift.ID)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newGiftResponse(gift))
}
