// Package payment talks to Crypto Pay, the crypto payment provider used for
// gift purchases. It covers the one outbound call the ledger needs
// (createInvoice) and verification of the provider's webhook signatures.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/ledger"
)

// SignatureHeader carries the provider's HMAC over the raw webhook body.
const SignatureHeader = "Crypto-Pay-Api-Signature"

const defaultBaseURL = "https://pay.crypt.bot/api"

// UpdateInvoicePaid is the only webhook update type the ledger acts on.
const UpdateInvoicePaid = "invoice_paid"

// Client is a minimal Crypto Pay API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	// secret is sha256(token), the webhook signing key per the provider's
	// protocol.
	secret [sha256.Size]byte
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		token:      token,
		secret:     sha256.Sum256([]byte(token)),
	}
}

type createInvoiceRequest struct {
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type createInvoiceResult struct {
	InvoiceID     int64  `json:"invoice_id"`
	BotInvoiceURL string `json:"bot_invoice_url"`
	MiniAppURL    string `json:"mini_app_invoice_url"`
}

type apiEnvelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

// CreateInvoice opens a provider invoice for one unit of the gift,
// denominated in the gift's asset. Implements ledger.PaymentProvider.
func (c *Client) CreateInvoice(ctx context.Context, gift *models.Gift, buyer *models.User) (*ledger.ProviderInvoice, error) {
	req := createInvoiceRequest{
		Asset:       gift.Asset,
		Amount:      gift.Price.String(),
		Description: gift.Name.In(buyer.Locale),
	}

	var result createInvoiceResult
	if err := c.call(ctx, "createInvoice", req, &result); err != nil {
		return nil, err
	}

	url := result.MiniAppURL
	if url == "" {
		url = result.BotInvoiceURL
	}
	return &ledger.ProviderInvoice{
		ExternalID: strconv.FormatInt(result.InvoiceID, 10),
		PaymentURL: url,
	}, nil
}

func (c *Client) call(ctx context.Context, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !envelope.OK {
		if envelope.Error != nil {
			return fmt.Errorf("%s failed: %d %s", method, envelope.Error.Code, envelope.Error.Name)
		}
		return fmt.Errorf("%s failed: status %d", method, resp.StatusCode)
	}
	return json.Unmarshal(envelope.Result, result)
}

// VerifySignature checks the provider's HMAC-SHA256 over the raw webhook
// body, keyed with sha256 of the API token.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, c.secret[:])
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// WebhookUpdate is the provider's webhook payload.
type WebhookUpdate struct {
	UpdateID   int64  `json:"update_id"`
	UpdateType string `json:"update_type"`
	Payload    struct {
		InvoiceID int64  `json:"invoice_id"`
		Status    string `json:"status"`
	} `json:"payload"`
}

// ParsePaidInvoice extracts the external invoice id from a webhook body,
// returning ok=false for update types other than invoice_paid.
func ParsePaidInvoice(body []byte) (externalID string, ok bool, err error) {
	var update WebhookUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return "", false, fmt.Errorf("decoding webhook update: %w", err)
	}
	if update.UpdateType != UpdateInvoicePaid {
		return "", false, nil
	}
	return strconv.FormatInt(update.Payload.InvoiceID, 10), true, nil
}
