package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/yourusername/lightning-gifts/models"
)

// Notifier is told about gifts that just settled. Implementations must not
// block and must not fail the caller.
type Notifier interface {
	GiftSettled(gift models.Gift)
}

type noopNotifier struct{}

func (noopNotifier) GiftSettled(models.Gift) {}

// HTTPNotifier posts a single best-effort webhook to the gift's notify URL.
type HTTPNotifier struct {
	client  *http.Client
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPNotifier{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type settledPayload struct {
	ID      string `json:"id"`
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
	Spent   bool   `json:"spent"`
}

func (n *HTTPNotifier) GiftSettled(gift models.Gift) {
	if gift.Notify == nil || *gift.Notify == "" {
		return
	}
	target := *gift.Notify
	payload := settledPayload{ID: gift.ID, OrderID: gift.ID, Amount: gift.Amount, Spent: true}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.post(target, payload)
	}()
}

func (n *HTTPNotifier) post(target string, payload settledPayload) {
	logger := log.WithFields(log.Fields{"gift_id": payload.ID, "notify": target})

	body, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Warn("notify payload not encoded")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		logger.WithError(err).Warn("notify request not built")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.WithError(err).Warn("notify delivery failed")
		return
	}
	resp.Body.Close()
	logger.WithField("status", resp.StatusCode).Debug("notify delivered")
}

// Wait blocks until in-flight notifications have finished.
func (n *HTTPNotifier) Wait() {
	n.wg.Wait()
}
