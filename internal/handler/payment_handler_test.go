package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payment-service/internal/domain"
	"payment-service/internal/handler"
	"payment-service/internal/orchestrator"
	"payment-service/internal/provider"
	"payment-service/internal/provider/providertest"
	"payment-service/internal/repository"
	"payment-service/internal/router"
)

const testSecret = "test-jwt-secret"

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type sessionData struct {
	SessionID     string  `json:"session_id"`
	ReferenceID   string  `json:"reference_id"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Phone         string  `json:"phone"`
	Provider      string  `json:"provider"`
	Status        string  `json:"status"`
	Detail        string  `json:"detail"`
	Attempts      int     `json:"attempts"`
}

func newTestServer(t *testing.T, adapter *providertest.Adapter) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()

	store := repository.NewMemoryStore()
	orch := orchestrator.New(store, provider.NewRegistry(adapter), orchestrator.DefaultConfig(), zap.NewNop())
	h := handler.NewPaymentHandler(orch, zap.NewNop())

	ts := httptest.NewServer(router.SetupRoutes(h, testSecret, zap.NewNop()))
	t.Cleanup(ts.Close)
	return ts, orch
}

func bearerToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user_01HX5K9P3Q",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp, parsed
}

func initiatePayment(t *testing.T, ts *httptest.Server, token string) sessionData {
	t.Helper()

	resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/initiate", token, map[string]any{
		"amount":   25.50,
		"phone":    "0244123456",
		"provider": "mtn",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, parsed.Success)

	var data sessionData
	require.NoError(t, json.Unmarshal(parsed.Data, &data))
	return data
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
		{name: "wrong secret", token: bearerToken(t, "some-other-secret")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, parsed := doRequest(t, ts, http.MethodGet, "/api/v1/payments?phone=233244123456", tt.token, nil)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			require.False(t, parsed.Success)
		})
	}
}

func TestHealthIsUnauthenticated(t *testing.T) {
	ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))

	resp, err := ts.Client().Get(ts.URL + "/api/v1/payments/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInitiateEndpoint(t *testing.T) {
	t.Run("starts a payment", func(t *testing.T) {
		ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))
		token := bearerToken(t, testSecret)

		data := initiatePayment(t, ts, token)
		require.Contains(t, data.SessionID, "pay_")
		require.Contains(t, data.TransactionID, "MOMO_")
		require.Equal(t, "pending", data.Status)
		require.Equal(t, "233244123456", data.Phone)
		require.Equal(t, "GHS", data.Currency)
		require.Equal(t, 25.50, data.Amount)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))
		token := bearerToken(t, testSecret)

		resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/initiate", token, map[string]any{
			"amount":   -5,
			"phone":    "0244123456",
			"provider": "mtn",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.False(t, parsed.Success)
		require.Contains(t, parsed.Error, "amount")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))
		token := bearerToken(t, testSecret)

		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/payments/initiate", bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("reports failed initiation as an outcome", func(t *testing.T) {
		adapter := providertest.New(domain.ProviderMTN).ScriptInitiate(
			providertest.InitiateStep{Err: domain.ErrProviderRejected},
		)
		ts, _ := newTestServer(t, adapter)
		token := bearerToken(t, testSecret)

		resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/initiate", token, map[string]any{
			"amount":   25.50,
			"phone":    "0244123456",
			"provider": "mtn",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.True(t, parsed.Success)

		var data sessionData
		require.NoError(t, json.Unmarshal(parsed.Data, &data))
		require.Equal(t, "failed", data.Status)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("settles a confirmed payment", func(t *testing.T) {
		adapter := providertest.New(domain.ProviderMTN).ScriptStatus(
			providertest.StatusStep{Result: &provider.StatusResult{
				State:         provider.SettlementSucceeded,
				ProviderTxnID: "9886364586",
			}},
		)
		ts, _ := newTestServer(t, adapter)
		token := bearerToken(t, testSecret)

		created := initiatePayment(t, ts, token)

		resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/"+created.SessionID+"/verify", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var data sessionData
		require.NoError(t, json.Unmarshal(parsed.Data, &data))
		require.Equal(t, "succeeded", data.Status)
		require.Equal(t, 1, data.Attempts)
	})

	t.Run("surfaces failure detail", func(t *testing.T) {
		adapter := providertest.New(domain.ProviderMTN).ScriptStatus(
			providertest.StatusStep{Result: &provider.StatusResult{
				State:  provider.SettlementFailed,
				Detail: "insufficient funds",
			}},
		)
		ts, _ := newTestServer(t, adapter)
		token := bearerToken(t, testSecret)

		created := initiatePayment(t, ts, token)

		resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/"+created.SessionID+"/verify", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var data sessionData
		require.NoError(t, json.Unmarshal(parsed.Data, &data))
		require.Equal(t, "failed", data.Status)
		require.Equal(t, "insufficient funds", data.Detail)
	})

	t.Run("unknown session", func(t *testing.T) {
		ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))
		token := bearerToken(t, testSecret)

		resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/pay_missing/verify", token, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.False(t, parsed.Success)
	})
}

func TestCancelEndpoint(t *testing.T) {
	t.Run("cancels a pending payment", func(t *testing.T) {
		ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))
		token := bearerToken(t, testSecret)

		created := initiatePayment(t, ts, token)

		resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/"+created.SessionID+"/cancel", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var data sessionData
		require.NoError(t, json.Unmarshal(parsed.Data, &data))
		require.Equal(t, "cancelled", data.Status)
	})

	t.Run("settled payment cannot be cancelled", func(t *testing.T) {
		adapter := providertest.New(domain.ProviderMTN).ScriptStatus(
			providertest.StatusStep{Result: &provider.StatusResult{State: provider.SettlementSucceeded}},
		)
		ts, orch := newTestServer(t, adapter)
		token := bearerToken(t, testSecret)

		created := initiatePayment(t, ts, token)
		_, err := orch.Confirm(context.Background(), created.SessionID)
		require.NoError(t, err)

		resp, parsed := doRequest(t, ts, http.MethodPost, "/api/v1/payments/"+created.SessionID+"/cancel", token, nil)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		require.False(t, parsed.Success)
	})
}

func TestGetEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, providertest.New(domain.ProviderMTN))
	token := bearerToken(t, testSecret)

	created := initiatePayment(t, ts, token)

	resp, parsed := doRequest(t, ts, http.MethodGet, "/api/v1/payments/"+created.SessionID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data sessionData
	require.NoError(t, json.Unmarshal(parsed.Data, &data))
	require.Equal(t, created.SessionID, data.SessionID)
	require.Equal(t, "pending", data.Status)

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/v1/payments/pay_missing", token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEndpoint(t *testing.T) {
	ts, orch := newTestServer(t, providertest.New(domain.ProviderMTN))
	token := bearerToken(t, testSecret)

	first := initiatePayment(t, ts, token)
	initiatePayment(t, ts, token)

	_, err := orch.Cancel(context.Background(), first.SessionID)
	require.NoError(t, err)

	t.Run("lists all sessions for a phone", func(t *testing.T) {
		resp, parsed := doRequest(t, ts, http.MethodGet, "/api/v1/payments?phone=233244123456", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var data []sessionData
		require.NoError(t, json.Unmarshal(parsed.Data, &data))
		require.Len(t, data, 2)
	})

	t.Run("filters by status", func(t *testing.T) {
		resp, parsed := doRequest(t, ts, http.MethodGet, "/api/v1/payments?phone=233244123456&status=cancelled", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var data []sessionData
		require.NoError(t, json.Unmarshal(parsed.Data, &data))
		require.Len(t, data, 1)
		require.Equal(t, first.SessionID, data[0].SessionID)
	})

	t.Run("phone is required", func(t *testing.T) {
		resp, parsed := doRequest(t, ts, http.MethodGet, "/api/v1/payments", token, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.False(t, parsed.Success)
	})
}
