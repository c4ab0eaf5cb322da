package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Metadata     map[string]string `json:"metadata"`
}

// CheckoutRequest - параметры ссылки на оплату тарифа
type CheckoutRequest struct {
	UserID      int64
	TariffID    uint
	PriceRub    int
	Description string
}

type Client struct {
	shopID     string
	secretKey  string
	apiURL     string
	returnURL  string
	httpClient *http.Client
}

type Config struct {
	ShopID    string
	SecretKey string
	APIURL    string
	ReturnURL string
	Timeout   time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		apiURL:     cfg.APIURL,
		returnURL:  cfg.ReturnURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Checkout создает платеж за тариф и возвращает его с confirmation_url.
// metadata user_id и tariff_id вернутся в уведомлении об оплате.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (*Payment, error) {
	return c.CreatePayment(ctx, &CreatePaymentRequest{
		Amount:  Amount{Value: fmt.Sprintf("%d.00", req.PriceRub), Currency: "RUB"},
		Capture: true,
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: c.returnURL,
		},
		Description: req.Description,
		Metadata: map[string]string{
			"user_id":   strconv.FormatInt(req.UserID, 10),
			"tariff_id": strconv.FormatUint(uint64(req.TariffID), 10),
		},
	})
}

func (c *Client) CreatePayment(ctx context.Context, body *CreatePaymentRequest) (*Payment, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, errors.Wrap(err, "failed to encode payment request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/payments", &buf)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "payment request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(raw))
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, errors.Wrap(err, "failed to decode payment response")
	}
	if payment.Confirmation.ConfirmationURL == "" {
		return nil, errors.Errorf("payment %s has no confirmation url", payment.ID)
	}
	return &payment, nil
}
