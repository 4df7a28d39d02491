package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
)

type countingCredentials struct {
	token       string
	invalidated atomic.Int32
}

func (c *countingCredentials) ValidCredential(context.Context) (domain.Credential, error) {
	return domain.Credential{AccessToken: c.token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (c *countingCredentials) Invalidate() { c.invalidated.Add(1) }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *countingCredentials) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	creds := &countingCredentials{token: "tok-1"}
	client, err := NewHTTPClient(ClientConfig{BaseURL: server.URL + "/", RequestsPerSecond: 1000, Burst: 100}, creds)
	require.NoError(t, err)
	return client, creds
}

func TestClientConfig_Validate(t *testing.T) {
	cfg := ClientConfig{}
	assert.ErrorIs(t, cfg.Validate(), ErrConfigMissingBaseURL)

	cfg = ClientConfig{BaseURL: "https://crm.example.com/api/"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://crm.example.com/api", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.Burst)
}

func TestHTTPClient_FindContact(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/contacts", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		if r.URL.Query().Get("email") == "ada@example.com" {
			_, _ = w.Write([]byte(`{"results":[{"id":"c-42"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	id, err := client.FindContact(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "c-42", id)

	_, err = client.FindContact(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHTTPClient_CreateProduct(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload productPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "RIFLE-1", payload.SKU)
		assert.True(t, payload.RequiresLicenseHolder)
		assert.True(t, payload.Price.Equal(decimal.RequireFromString("899.00")))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p-7"}`))
	})

	id, err := client.CreateProduct(context.Background(), domain.Product{
		SKU: "RIFLE-1", Name: "Rifle", UnitPrice: decimal.RequireFromString("899.00"), RequiresLicenseHolder: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "p-7", id)
}

func TestHTTPClient_UpsertDeal(t *testing.T) {
	var creates, updates atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/deals":
			creates.Add(1)
			var payload dealPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "1234567A", payload.Name)
			require.Len(t, payload.LineItems, 1)
			_, _ = w.Write([]byte(`{"id":"d-1"}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/deals/d-1":
			updates.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	deal := domain.Deal{
		Name: "1234567A", OrderLabel: "1234567Z", ContactID: "c-1",
		LineItems: []domain.DealLineItem{{ProductID: "p-1", SKU: "RIFLE-1", Quantity: 1}},
	}
	id, err := client.UpsertDeal(context.Background(), "", deal)
	require.NoError(t, err)
	assert.Equal(t, "d-1", id)

	id, err = client.UpsertDeal(context.Background(), "d-1", deal)
	require.NoError(t, err)
	assert.Equal(t, "d-1", id, "update keeps the existing deal id")
	assert.Equal(t, int32(1), creates.Load())
	assert.Equal(t, int32(1), updates.Load())
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		wantClass  domain.ErrorClass
		wantRetry  time.Duration
		invalidate bool
	}{
		{name: "conflict is duplicate", status: http.StatusConflict, wantClass: domain.ClassDuplicate},
		{name: "404 is not found", status: http.StatusNotFound, wantClass: domain.ClassNotFound},
		{name: "429 carries retry-after", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "3"},
			wantClass: domain.ClassRateLimited, wantRetry: 3 * time.Second},
		{name: "503 is transient", status: http.StatusServiceUnavailable, wantClass: domain.ClassTransient},
		{name: "401 is transient and drops the token", status: http.StatusUnauthorized, wantClass: domain.ClassTransient, invalidate: true},
		{name: "422 is permanent", status: http.StatusUnprocessableEntity, wantClass: domain.ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, creds := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"code":"x","message":"rejected"}`)
			})

			_, err := client.CreateContact(context.Background(), domain.Contact{Email: "a@example.com"})
			require.Error(t, err)
			var ce *domain.Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantClass, ce.Class)
			assert.Equal(t, tt.status, ce.StatusCode)
			assert.Equal(t, tt.wantRetry, domain.RetryAfterOf(err))
			assert.Contains(t, err.Error(), "rejected")
			if tt.invalidate {
				assert.Equal(t, int32(1), creds.invalidated.Load())
			} else {
				assert.Equal(t, int32(0), creds.invalidated.Load())
			}
		})
	}
}

func TestHTTPClient_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewHTTPClient(ClientConfig{BaseURL: url}, StaticCredentials{Token: "t"})
	require.NoError(t, err)

	_, err = client.FindProduct(context.Background(), "SKU-1")
	assert.Equal(t, domain.ClassTransient, domain.ClassOf(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
}
