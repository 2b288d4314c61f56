// Package telco implements the provider adapter for Vodafone Cash, AirtelTigo
// Money and Telecel Cash, which the platform reaches through one aggregator
// gateway. The gateway exposes the same charge API for every channel; only
// the channel tag and the accepted phone prefixes differ per network.
package telco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-service/internal/domain"
	"payment-service/internal/provider"
)

type Config struct {
	BaseURL string
	APIKey  string
}

type GatewayProvider struct {
	config     Config
	name       domain.PaymentProvider
	channel    string
	httpClient *http.Client
}

func NewVodafone(cfg Config) *GatewayProvider {
	return newGateway(cfg, domain.ProviderVodafone, "vodafone-cash")
}

func NewAirtel(cfg Config) *GatewayProvider {
	return newGateway(cfg, domain.ProviderAirtel, "airteltigo-money")
}

func NewTelecel(cfg Config) *GatewayProvider {
	return newGateway(cfg, domain.ProviderTelecel, "telecel-cash")
}

func newGateway(cfg Config, name domain.PaymentProvider, channel string) *GatewayProvider {
	return &GatewayProvider{
		config:     cfg,
		name:       name,
		channel:    channel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *GatewayProvider) Name() domain.PaymentProvider { return g.name }

func (g *GatewayProvider) NormalizeHandle(raw string) (string, error) {
	return provider.NormalizeMSISDN(g.name, raw)
}

type chargeRequest struct {
	Reference string  `json:"reference"`
	Channel   string  `json:"channel"`
	MSISDN    string  `json:"msisdn"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Narration string  `json:"narration"`
}

type chargeResponse struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"` // accepted | pending | successful | failed
	Message       string `json:"message"`
}

func (g *GatewayProvider) Initiate(ctx context.Context, referenceID string, amount float64, payerHandle string) (*provider.InitiateResult, error) {
	body := chargeRequest{
		Reference: referenceID,
		Channel:   g.channel,
		MSISDN:    payerHandle,
		Amount:    amount,
		Currency:  domain.Currency,
		Narration: "Campus services payment",
	}

	var resp chargeResponse
	if err := g.call(ctx, http.MethodPost, "/v1/charges", body, &resp); err != nil {
		return nil, err
	}
	return &provider.InitiateResult{
		Accepted:      true,
		ProviderTxnID: resp.TransactionID,
		Detail:        resp.Message,
	}, nil
}

func (g *GatewayProvider) Status(ctx context.Context, referenceID string) (*provider.StatusResult, error) {
	var resp chargeResponse
	if err := g.call(ctx, http.MethodGet, "/v1/charges/"+referenceID, nil, &resp); err != nil {
		return nil, err
	}

	result := &provider.StatusResult{ProviderTxnID: resp.TransactionID}
	switch resp.Status {
	case "successful":
		result.State = provider.SettlementSucceeded
		result.Detail = "payment approved by payer"
	case "failed":
		result.State = provider.SettlementFailed
		result.Detail = resp.Message
		if result.Detail == "" {
			result.Detail = "payment failed"
		}
	default:
		result.State = provider.SettlementPending
		result.Detail = "awaiting payer approval"
	}
	return result, nil
}

func (g *GatewayProvider) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s gateway: %v", domain.ErrProviderTransient, g.channel, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s gateway returned %d", domain.ErrProviderTransient, g.channel, resp.StatusCode)
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusAccepted, resp.StatusCode == http.StatusCreated:
		// parsed below
	default:
		data, _ := io.ReadAll(resp.Body)
		var gwErr struct {
			Message string `json:"message"`
		}
		detail := fmt.Sprintf("gateway returned %d", resp.StatusCode)
		if err := json.Unmarshal(data, &gwErr); err == nil && gwErr.Message != "" {
			detail = gwErr.Message
		}
		return fmt.Errorf("%w: %s", domain.ErrProviderRejected, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to parse %s gateway response: %v", domain.ErrProviderTransient, g.channel, err)
	}
	return nil
}
