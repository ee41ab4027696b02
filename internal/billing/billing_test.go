package billing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/streamchat/internal/billing"
	"github.com/compresr/streamchat/internal/credentials"
)

func newServer(t *testing.T, usage, subscription string, subStatus int) (*httptest.Server, *http.Request) {
	t.Helper()
	var lastUsage http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case billing.UsagePath:
			lastUsage = *r
			_, _ = w.Write([]byte(usage))
		case billing.SubscriptionPath:
			w.WriteHeader(subStatus)
			_, _ = w.Write([]byte(subscription))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &lastUsage
}

func TestUsage_ConvertsCents(t *testing.T) {
	srv, last := newServer(t, `{"total_usage": 1234.5}`, `{}`, 200)
	c := billing.NewClient(credentials.NewStatic(credentials.Config{BaseURL: srv.URL, APIKey: "sk-1"}, nil))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	used, err := c.Usage(context.Background(), start, end)
	require.NoError(t, err)

	assert.InDelta(t, 12.345, used, 1e-9)
	assert.Equal(t, "2024-03-01", last.URL.Query().Get("start_date"))
	assert.Equal(t, "2024-03-15", last.URL.Query().Get("end_date"))
	assert.Equal(t, "Bearer sk-1", last.Header.Get("Authorization"))
}

func TestSubscription(t *testing.T) {
	srv, _ := newServer(t, `{}`, `{"hard_limit_usd": 120}`, 200)
	c := billing.NewClient(credentials.NewStatic(credentials.Config{BaseURL: srv.URL}, nil))

	limit, err := c.Subscription(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120.0, limit)
}

func TestCurrentMonth_SubscriptionOptional(t *testing.T) {
	srv, _ := newServer(t, `{"total_usage": 500}`, `{"error":"nope"}`, 403)
	c := billing.NewClient(credentials.NewStatic(credentials.Config{BaseURL: srv.URL}, nil))

	u, err := c.CurrentMonth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, u.Used)
	assert.Zero(t, u.Subscription)
	assert.Equal(t, 1, u.Start.Day())
	assert.True(t, u.End.After(u.Start))
}

func TestUsage_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing field", `{"data": []}`},
		{"invalid json", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.body, `{}`, 200)
			c := billing.NewClient(credentials.NewStatic(credentials.Config{BaseURL: srv.URL}, nil))
			_, err := c.Usage(context.Background(), time.Now(), time.Now())
			assert.Error(t, err)
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := billing.NewClient(credentials.NewStatic(credentials.Config{BaseURL: srv.URL}, nil))
	_, err := c.Usage(context.Background(), time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
