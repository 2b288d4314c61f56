// Package mtn implements the provider adapter for MTN Mobile Money using the
// MoMo API collections product (request-to-pay). The charge reference ID is
// sent as the X-Reference-Id header, which MoMo treats as an idempotency key:
// re-submitting the same reference never creates a second charge.
package mtn

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"payment-service/internal/domain"
	"payment-service/internal/provider"
)

type Config struct {
	Environment     string // "sandbox" or "production"
	BaseURL         string // override; derived from Environment when empty
	SubscriptionKey string
	APIUser         string
	APIKey          string
	CallbackHost    string
}

type MTNProvider struct {
	config     Config
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg Config) *MTNProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://sandbox.momodeveloper.mtn.com"
		if cfg.Environment == "production" {
			baseURL = "https://proxy.momoapi.mtn.com"
		}
	}
	return &MTNProvider{
		config:     cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *MTNProvider) Name() domain.PaymentProvider { return domain.ProviderMTN }

func (m *MTNProvider) NormalizeHandle(raw string) (string, error) {
	return provider.NormalizeMSISDN(domain.ProviderMTN, raw)
}

// requestToPayBody is the MoMo collections request-to-pay payload.
type requestToPayBody struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        momoParty `json:"payer"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

type momoParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

// requestToPayStatus is the MoMo response for GET requesttopay/{referenceId}.
type requestToPayStatus struct {
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
	FinancialTransactionID string `json:"financialTransactionId"`
	ExternalID             string `json:"externalId"`
	Status                 string `json:"status"` // PENDING | SUCCESSFUL | FAILED
	Reason                 string `json:"reason"`
}

type momoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m *MTNProvider) Initiate(ctx context.Context, referenceID string, amount float64, payerHandle string) (*provider.InitiateResult, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := requestToPayBody{
		Amount:       strconv.FormatFloat(amount, 'f', 2, 64),
		Currency:     m.currency(),
		ExternalID:   referenceID,
		Payer:        momoParty{PartyIDType: "MSISDN", PartyID: payerHandle},
		PayerMessage: "Campus services payment",
		PayeeNote:    "UCSP order",
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := m.baseURL + "/collection/v1_0/requesttopay"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Reference-Id", referenceID)
	req.Header.Set("X-Target-Environment", m.targetEnvironment())
	req.Header.Set("Ocp-Apim-Subscription-Key", m.config.SubscriptionKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: requesttopay: %v", domain.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return &provider.InitiateResult{Accepted: true, Detail: "charge accepted, awaiting payer approval"}, nil
	case resp.StatusCode == http.StatusConflict:
		// Same reference already submitted; the charge exists on the
		// provider side, so this retry is a no-op.
		return &provider.InitiateResult{Accepted: true, Detail: "charge already submitted"}, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: requesttopay returned %d", domain.ErrProviderTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderRejected, m.errorDetail(resp))
	}
}

func (m *MTNProvider) Status(ctx context.Context, referenceID string) (*provider.StatusResult, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/collection/v1_0/requesttopay/%s", m.baseURL, referenceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", m.targetEnvironment())
	req.Header.Set("Ocp-Apim-Subscription-Key", m.config.SubscriptionKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: requesttopay status: %v", domain.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// parsed below
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: charge not found for reference", domain.ErrProviderRejected)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: requesttopay status returned %d", domain.ErrProviderTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderRejected, m.errorDetail(resp))
	}

	var status requestToPayStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: failed to parse status response: %v", domain.ErrProviderTransient, err)
	}

	result := &provider.StatusResult{ProviderTxnID: status.FinancialTransactionID}
	switch status.Status {
	case "SUCCESSFUL":
		result.State = provider.SettlementSucceeded
		result.Detail = "payment approved by payer"
	case "FAILED":
		result.State = provider.SettlementFailed
		result.Detail = failureDetail(status.Reason)
	default:
		result.State = provider.SettlementPending
		result.Detail = "awaiting payer approval"
	}
	return result, nil
}

// failureDetail maps MoMo failure reason codes to user-presentable text.
func failureDetail(reason string) string {
	switch reason {
	case "PAYER_NOT_FOUND":
		return "phone number is not registered for mobile money"
	case "NOT_ENOUGH_FUNDS":
		return "insufficient funds"
	case "PAYER_LIMIT_REACHED":
		return "payer transaction limit reached"
	case "EXPIRED":
		return "payment request expired before approval"
	case "PAYEE_NOT_ALLOWED_TO_RECEIVE", "NOT_ALLOWED":
		return "transaction not permitted"
	case "APPROVAL_REJECTED":
		return "payment declined by payer"
	case "":
		return "payment failed"
	default:
		return "payment failed: " + reason
	}
}

// accessToken returns a cached OAuth token, refreshing when expired.
func (m *MTNProvider) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/collection/token/", nil)
	if err != nil {
		return "", err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(m.config.APIUser + ":" + m.config.APIKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Ocp-Apim-Subscription-Key", m.config.SubscriptionKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", domain.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: token request returned %d", domain.ErrProviderTransient, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: token request failed: %s", domain.ErrProviderRejected, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: failed to parse token response: %v", domain.ErrProviderTransient, err)
	}

	m.token = result.AccessToken
	// Refresh one minute early to avoid using a token at the edge of expiry.
	m.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - time.Minute)
	return m.token, nil
}

func (m *MTNProvider) errorDetail(resp *http.Response) string {
	body, _ := io.ReadAll(resp.Body)
	var momoErr momoError
	if err := json.Unmarshal(body, &momoErr); err == nil && momoErr.Message != "" {
		return momoErr.Message
	}
	return fmt.Sprintf("provider returned %d", resp.StatusCode)
}

func (m *MTNProvider) targetEnvironment() string {
	if m.config.Environment == "production" {
		return "mtnghana"
	}
	return "sandbox"
}

func (m *MTNProvider) currency() string {
	// The MoMo sandbox only accepts EUR; production uses the platform currency.
	if m.config.Environment == "production" {
		return domain.Currency
	}
	return "EUR"
}
