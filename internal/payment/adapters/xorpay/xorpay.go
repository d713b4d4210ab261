// Package xorpay integrates the XorPay aggregation gateway. Checkout is
// opened with a precreate call that returns a QR code; settlement arrives as
// a form-encoded notify signed with an MD5 digest over concatenated values.
package xorpay

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/payment/domain"
)

const ProviderName = "xorpay"

const defaultPayType = "alipay"

type Adapter struct {
	aid       string
	appSecret string
	notifyURL string
	baseURL   string
	client    *http.Client
}

func New(cfg config.XorPayConfig) *Adapter {
	return &Adapter{
		aid:       cfg.AID,
		appSecret: cfg.AppSecret,
		notifyURL: cfg.NotifyURL,
		baseURL:   cfg.BaseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *Adapter) Provider() string { return ProviderName }

// md5Concat signs by hashing the plain value concatenation, no separators.
func md5Concat(values ...string) string {
	sum := md5.Sum([]byte(strings.Join(values, "")))
	return hex.EncodeToString(sum[:])
}

func (a *Adapter) Verify(ctx context.Context, body []byte, header map[string]string) error {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return domain.ErrVerificationFailed
	}

	aoid := values.Get("aoid")
	orderID := values.Get("order_id")
	payPrice := values.Get("pay_price")
	payTime := values.Get("pay_time")
	sign := strings.ToLower(values.Get("sign"))
	if aoid == "" || orderID == "" || payPrice == "" || payTime == "" || sign == "" {
		return domain.ErrVerificationFailed
	}

	expect := md5Concat(aoid, orderID, payPrice, payTime, a.appSecret)
	if subtle.ConstantTimeCompare([]byte(expect), []byte(sign)) != 1 {
		return domain.ErrVerificationFailed
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, body []byte) (*domain.WebhookEvent, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, domain.ErrMalformedPayload
	}

	orderID := values.Get("order_id")
	if orderID == "" {
		return nil, domain.ErrMalformedPayload
	}

	raw := make(map[string]any, len(values))
	for key := range values {
		raw[key] = values.Get(key)
	}

	// XorPay only notifies on settled payments.
	return &domain.WebhookEvent{
		TransactionID:         orderID,
		ProviderTransactionID: values.Get("transaction_id"),
		Status:                domain.StatusSucceeded,
		Amount:                parsePrice(values.Get("pay_price")),
		Raw:                   raw,
	}, nil
}

// parsePrice converts the gateway's decimal major-unit string to minor units.
func parsePrice(s string) int64 {
	price, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(price * 100))
}

type precreateResponse struct {
	Status string          `json:"status"`
	Info   json.RawMessage `json:"info"`
	AOID   string          `json:"aoid"`

	ExpiresIn int `json:"expires_in"`
}

type precreateInfo struct {
	QR string `json:"qr"`
}

// CreateCharge opens a native checkout for the transaction and returns the QR
// code URL the client renders.
func (a *Adapter) CreateCharge(ctx context.Context, tx domain.PaymentTransaction) (map[string]any, error) {
	if a.aid == "" || a.notifyURL == "" {
		return nil, fmt.Errorf("xorpay: aid and notify url are required for checkout")
	}

	name := fmt.Sprintf("top-up %s", tx.UserID)
	price := fmt.Sprintf("%.2f", float64(tx.Amount)/100)
	sign := md5Concat(name, defaultPayType, price, tx.ID, a.notifyURL, a.appSecret)

	form := url.Values{}
	form.Set("pay_type", defaultPayType)
	form.Set("name", name)
	form.Set("price", price)
	form.Set("order_id", tx.ID)
	form.Set("notify_url", a.notifyURL)
	form.Set("sign", sign)

	endpoint := fmt.Sprintf("%s/api/pay/%s", a.baseURL, a.aid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xorpay: precreate request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var decoded precreateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("xorpay: precreate response: %w", err)
	}
	if decoded.Status != "ok" {
		return nil, fmt.Errorf("xorpay: precreate rejected: %s %s", decoded.Status, string(decoded.Info))
	}

	var info precreateInfo
	if err := json.Unmarshal(decoded.Info, &info); err != nil || info.QR == "" {
		return nil, fmt.Errorf("xorpay: precreate returned no qr code")
	}

	charge := map[string]any{
		"qr_code": info.QR,
	}
	if decoded.AOID != "" {
		charge["aoid"] = decoded.AOID
	}
	if decoded.ExpiresIn > 0 {
		charge["expires_in"] = decoded.ExpiresIn
	}
	return charge, nil
}
