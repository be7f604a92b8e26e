package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrOutcomeUnknown marks a processor call whose effect cannot be known:
// the request may or may not have been executed.
var ErrOutcomeUnknown = errors.New("processor outcome unknown")

// ErrWithdrawalNotFound reports that the processor holds no withdrawal for a claim.
var ErrWithdrawalNotFound = errors.New("withdrawal not found")

// ProcessorError is a definitive rejection returned by the processor.
type ProcessorError struct {
	StatusCode int
	Message    string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("LNPay.co error %d: %s", e.StatusCode, e.Message)
}

// WithdrawalState is the processor's view of an outbound payment.
type WithdrawalState string

const (
	WithdrawalStatePending WithdrawalState = "pending"
	WithdrawalStateSettled WithdrawalState = "settled"
	WithdrawalStateFailed  WithdrawalState = "failed"
)

type InvoiceRequest struct {
	GiftID          string
	Amount          int64
	Description     string
	DescriptionHash string
}

type Invoice struct {
	ChargeID       string
	PaymentRequest string
	Amount         int64
	Settled        bool
}

// WithdrawalRequest pays PaymentRequest out of the wallet. GiftID and
// ClaimID travel with the payment so that callbacks and lookups can be
// attributed to the claim that submitted it.
type WithdrawalRequest struct {
	GiftID         string
	ClaimID        string
	PaymentRequest string
}

type WithdrawalStatus struct {
	Reference string
	State     WithdrawalState
	Fee       int64 // satoshis
}

type ProcessorClientInterface interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	GetInvoiceStatus(ctx context.Context, chargeID string) (bool, error)
	SubmitWithdrawal(ctx context.Context, req WithdrawalRequest) (string, error)
	GetWithdrawalStatus(ctx context.Context, withdrawalID string) (*WithdrawalStatus, error)
	// FindWithdrawal looks up the withdrawal submitted for a claim whose
	// submit response was lost.
	FindWithdrawal(ctx context.Context, giftID, claimID string) (string, error)
}

type LNPayClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	walletKey  string
}

func NewLNPayClient(baseURL, apiKey, walletKey string, timeout time.Duration) ProcessorClientInterface {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LNPayClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		walletKey:  walletKey,
	}
}

type passThru struct {
	GiftID  string `json:"giftId"`
	ClaimID string `json:"claimId,omitempty"`
}

type lnTx struct {
	ID             string `json:"id"`
	Settled        int    `json:"settled"`
	PaymentRequest string `json:"payment_request"`
	NumSatoshis    int64  `json:"num_satoshis"`
	FeeMsat        int64  `json:"fee_msat"`
}

func (c *LNPayClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body := map[string]any{
		"passThru":     passThru{GiftID: req.GiftID},
		"num_satoshis": req.Amount,
	}
	if req.DescriptionHash != "" {
		body["description_hash"] = req.DescriptionHash
	} else {
		body["memo"] = req.Description
	}

	var tx lnTx
	if err := c.do(ctx, http.MethodPost, c.walletURL("/invoice"), body, &tx); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	if tx.ID == "" || tx.PaymentRequest == "" {
		return nil, fmt.Errorf("failed to create invoice: %w: empty invoice in response", ErrOutcomeUnknown)
	}
	return &Invoice{
		ChargeID:       tx.ID,
		PaymentRequest: tx.PaymentRequest,
		Amount:         tx.NumSatoshis,
		Settled:        tx.Settled != 0,
	}, nil
}

func (c *LNPayClient) GetInvoiceStatus(ctx context.Context, chargeID string) (bool, error) {
	var tx lnTx
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/lntx/"+url.PathEscape(chargeID), nil, &tx); err != nil {
		return false, fmt.Errorf("failed to get invoice status: %w", err)
	}
	return tx.Settled != 0, nil
}

func (c *LNPayClient) SubmitWithdrawal(ctx context.Context, req WithdrawalRequest) (string, error) {
	body := map[string]any{
		"passThru":        passThru{GiftID: req.GiftID, ClaimID: req.ClaimID},
		"payment_request": req.PaymentRequest,
	}

	var resp struct {
		LnTx lnTx `json:"lnTx"`
	}
	if err := c.do(ctx, http.MethodPost, c.walletURL("/withdraw"), body, &resp); err != nil {
		return "", fmt.Errorf("failed to submit withdrawal: %w", err)
	}
	if resp.LnTx.ID == "" {
		return "", fmt.Errorf("failed to submit withdrawal: %w: missing transaction id", ErrOutcomeUnknown)
	}
	return resp.LnTx.ID, nil
}

func (c *LNPayClient) GetWithdrawalStatus(ctx context.Context, withdrawalID string) (*WithdrawalStatus, error) {
	var resp struct {
		Data struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
			FeeMsat   int64  `json:"fee_msat"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.walletURL("/withdrawal/"+url.PathEscape(withdrawalID)), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get withdrawal status: %w", err)
	}
	return &WithdrawalStatus{
		Reference: resp.Data.Reference,
		State:     parseWithdrawalState(resp.Data.Status),
		Fee:       resp.Data.FeeMsat / 1000,
	}, nil
}

// FindWithdrawal scans the wallet's recent transactions for the outbound
// payment tagged with the claim.
func (c *LNPayClient) FindWithdrawal(ctx context.Context, giftID, claimID string) (string, error) {
	if claimID == "" {
		return "", ErrWithdrawalNotFound
	}

	var txs []struct {
		PassThru passThru `json:"passThru"`
		LnTx     lnTx     `json:"lnTx"`
	}
	if err := c.do(ctx, http.MethodGet, c.walletURL("/transactions?per_page=100"), nil, &txs); err != nil {
		return "", fmt.Errorf("failed to list transactions: %w", err)
	}
	for _, tx := range txs {
		if tx.PassThru.GiftID == giftID && tx.PassThru.ClaimID == claimID && tx.LnTx.ID != "" {
			return tx.LnTx.ID, nil
		}
	}
	return "", ErrWithdrawalNotFound
}

func parseWithdrawalState(status string) WithdrawalState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "settled", "confirmed", "success", "succeeded", "paid":
		return WithdrawalStateSettled
	case "failed", "error", "rejected", "cancelled", "canceled":
		return WithdrawalStateFailed
	default:
		return WithdrawalStatePending
	}
}

func (c *LNPayClient) walletURL(path string) string {
	return c.baseURL + "/wallet/" + url.PathEscape(c.walletKey) + path
}

// do performs a JSON request. Transport failures, timeouts, 5xx responses and
// undecodable bodies are reported as ErrOutcomeUnknown; 4xx responses as
// *ProcessorError.
func (c *LNPayClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrOutcomeUnknown, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", ErrOutcomeUnknown, decodeProcessorError(resp.StatusCode, data))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeProcessorError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %w", ErrOutcomeUnknown, err)
		}
	}
	return nil
}

func decodeProcessorError(statusCode int, data []byte) *ProcessorError {
	var body struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	}
	perr := &ProcessorError{StatusCode: statusCode, Message: http.StatusText(statusCode)}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		perr.Message = body.Message
		if body.Status != 0 {
			perr.StatusCode = body.Status
		}
	}
	return perr
}
