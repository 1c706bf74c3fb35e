package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftsaleapp/entitlement/modules/api"
	"github.com/swiftsaleapp/entitlement/pkg/entitlement"
)

const devPaymentCode = "dev-payment-ok"

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	issuer, err := entitlement.NewTokenIssuer([]byte("test-signing-key-0123456789abcdef"))
	require.NoError(t, err)

	svc := entitlement.NewService(
		entitlement.DefaultCatalog(),
		entitlement.NewMemoryStore(),
		entitlement.NewStaticProvider(devPaymentCode),
		issuer,
	)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.Router(svc, log)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env apiEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func registerAccount(t *testing.T, h http.Handler, email string) uuid.UUID {
	t.Helper()

	rec, env := doJSON(t, h, http.MethodPost, "/accounts", map[string]string{"email": email})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var data struct {
		Account struct {
			ID uuid.UUID `json:"id"`
		} `json:"account"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Account.ID
}

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("creates account with token", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)

		rec, env := doJSON(t, h, http.MethodPost, "/accounts", map[string]string{"email": "seller@swiftsaleapp.com"})
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Nil(t, env.Error)

		var data struct {
			Account struct {
				ID     uuid.UUID `json:"id"`
				Email  string    `json:"email"`
				TierID string    `json:"tier_id"`
				Status string    `json:"status"`
			} `json:"account"`
			Token struct {
				Token     string `json:"token"`
				ExpiresAt int64  `json:"expires_at"`
			} `json:"token"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.NotEqual(t, uuid.Nil, data.Account.ID)
		assert.Equal(t, "seller@swiftsaleapp.com", data.Account.Email)
		assert.Equal(t, "free", data.Account.TierID)
		assert.Equal(t, "active", data.Account.Status)
		assert.NotEmpty(t, data.Token.Token)
		assert.Positive(t, data.Token.ExpiresAt)
	})

	t.Run("missing email", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)

		rec, env := doJSON(t, h, http.MethodPost, "/accounts", map[string]string{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "validation_error", env.Error.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("reports tier and limits", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, env := doJSON(t, h, http.MethodGet, fmt.Sprintf("/accounts/%s/status", id), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var data struct {
			TierID   string           `json:"tier_id"`
			Status   string           `json:"status"`
			Features []string         `json:"features"`
			Limits   map[string]int64 `json:"limits"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "free", data.TierID)
		assert.Equal(t, "active", data.Status)
		assert.Contains(t, data.Features, "settings_access")
		assert.Equal(t, int64(20), data.Limits["bins"])
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)

		rec, env := doJSON(t, h, http.MethodGet, fmt.Sprintf("/accounts/%s/status", uuid.New()), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "not_found", env.Error.Code)
	})

	t.Run("malformed account id", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)

		rec, env := doJSON(t, h, http.MethodGet, "/accounts/not-a-uuid/status", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "validation_error", env.Error.Code)
	})
}

func TestUpgradeEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("approved upgrade returns fresh token", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", id),
			map[string]string{"tier_id": "silver", "payment_proof": devPaymentCode})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var data struct {
			Account struct {
				TierID string `json:"tier_id"`
				Status string `json:"status"`
			} `json:"account"`
			Token struct {
				Token string `json:"token"`
			} `json:"token"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "silver", data.Account.TierID)
		assert.Equal(t, "active", data.Account.Status)
		assert.NotEmpty(t, data.Token.Token)
	})

	t.Run("declined payment", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", id),
			map[string]string{"tier_id": "silver", "payment_proof": "wrong"})
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "payment_rejected", env.Error.Code)
	})

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", id),
			map[string]string{"tier_id": "platinum", "payment_proof": devPaymentCode})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "validation_error", env.Error.Code)
	})

	t.Run("downgrade via upgrade endpoint", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, _ := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", id),
			map[string]string{"tier_id": "gold", "payment_proof": devPaymentCode})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", id),
			map[string]string{"tier_id": "bronze", "payment_proof": devPaymentCode})
		assert.Equal(t, http.StatusConflict, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "invalid_transition", env.Error.Code)
	})
}

func TestDowngradeAndCancelEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("schedules downgrade", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, _ := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", id),
			map[string]string{"tier_id": "silver", "payment_proof": devPaymentCode})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/downgrade", id),
			map[string]string{"tier_id": "free"})
		require.Equal(t, http.StatusOK, rec.Code)

		var data struct {
			TierID        string `json:"tier_id"`
			Status        string `json:"status"`
			PendingTierID string `json:"pending_tier_id"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "silver", data.TierID)
		assert.Equal(t, "pending_downgrade", data.Status)
		assert.Equal(t, "free", data.PendingTierID)
	})

	t.Run("downgrade from floor", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/downgrade", id),
			map[string]string{"tier_id": "free"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "invalid_transition", env.Error.Code)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/cancel", id), map[string]string{})
		require.Equal(t, http.StatusOK, rec.Code)

		var data struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "cancelled", data.Status)

		rec, env = doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/cancel", id), map[string]string{})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "cancelled", data.Status)
	})

	t.Run("cancelled account rejects upgrade", func(t *testing.T) {
		t.Parallel()
		h := newTestRouter(t)
		id := registerAccount(t, h, "seller@swiftsaleapp.com")

		rec, _ := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/cancel", id), map[string]string{})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", id),
			map[string]string{"tier_id": "silver", "payment_proof": devPaymentCode})
		assert.Equal(t, http.StatusConflict, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "account_cancelled", env.Error.Code)
	})
}

func TestTokenEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)
	id := registerAccount(t, h, "seller@swiftsaleapp.com")

	rec, env := doJSON(t, h, http.MethodPost, fmt.Sprintf("/accounts/%s/token", id), map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.Token)
	assert.Positive(t, data.ExpiresAt)
}

func TestTiersEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	rec, env := doJSON(t, h, http.MethodGet, "/tiers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tiers []struct {
		ID   string `json:"id"`
		Rank int    `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tiers))
	require.Len(t, tiers, 4)
	assert.Equal(t, "free", tiers[0].ID)
	assert.Equal(t, "gold", tiers[3].ID)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
