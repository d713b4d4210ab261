// Package alipay verifies asynchronous trade notifications from Alipay.
// Notifications are form-encoded key/value pairs signed RSA2 (SHA256 with
// RSA) over the sorted pairs, excluding sign and sign_type.
package alipay

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/payment/domain"
)

const ProviderName = "alipay"

type Adapter struct {
	appID     string
	publicKey *rsa.PublicKey
}

func New(cfg config.AlipayConfig) (*Adapter, error) {
	key, err := parsePublicKey(cfg.AlipayPublicKey)
	if err != nil {
		return nil, fmt.Errorf("alipay: public key: %w", err)
	}
	return &Adapter{appID: cfg.AppID, publicKey: key}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

// parsePublicKey accepts a PEM block or the bare base64 body Alipay's console
// hands out.
func parsePublicKey(raw string) (*rsa.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty key")
	}

	var der []byte
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw, "\n", ""))
		if err != nil {
			return nil, err
		}
		der = decoded
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA key")
	}
	return key, nil
}

func (a *Adapter) Verify(ctx context.Context, body []byte, header map[string]string) error {
	params, err := decodeParams(body)
	if err != nil {
		return domain.ErrVerificationFailed
	}

	signature := params["sign"]
	if signature == "" {
		return domain.ErrVerificationFailed
	}
	if signType, ok := params["sign_type"]; ok && !strings.EqualFold(signType, "RSA2") {
		return domain.ErrVerificationFailed
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return domain.ErrVerificationFailed
	}

	digest := sha256.Sum256([]byte(signContent(params)))
	if err := rsa.VerifyPKCS1v15(a.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return domain.ErrVerificationFailed
	}
	return nil
}

// signContent rebuilds the signed string: non-empty pairs sorted by key,
// joined k=v with &, sign and sign_type excluded.
func signContent(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if key == "sign" || key == "sign_type" || value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	return strings.Join(pairs, "&")
}

// decodeParams accepts the form encoding Alipay actually sends, falling back
// to JSON for replayed payloads.
func decodeParams(body []byte) (map[string]string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, err
		}
		params := make(map[string]string, len(decoded))
		for key, value := range decoded {
			params[key] = fmt.Sprintf("%v", value)
		}
		return params, nil
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, len(values))
	for key := range values {
		params[key] = values.Get(key)
	}
	return params, nil
}

func (a *Adapter) Parse(ctx context.Context, body []byte) (*domain.WebhookEvent, error) {
	params, err := decodeParams(body)
	if err != nil {
		return nil, domain.ErrMalformedPayload
	}

	outTradeNo := params["out_trade_no"]
	if outTradeNo == "" {
		return nil, domain.ErrMalformedPayload
	}

	status, err := mapTradeStatus(params["trade_status"])
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any, len(params))
	for key, value := range params {
		raw[key] = value
	}

	return &domain.WebhookEvent{
		TransactionID:         outTradeNo,
		ProviderTransactionID: params["trade_no"],
		Status:                status,
		Amount:                parseAmount(params["total_amount"]),
		Raw:                   raw,
	}, nil
}

func mapTradeStatus(tradeStatus string) (domain.Status, error) {
	switch tradeStatus {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return domain.StatusSucceeded, nil
	case "TRADE_CLOSED":
		return domain.StatusFailed, nil
	case "WAIT_BUYER_PAY":
		return domain.StatusPending, nil
	default:
		return "", domain.ErrMalformedPayload
	}
}

func parseAmount(s string) int64 {
	amount, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(amount * 100))
}
