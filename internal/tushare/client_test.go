package tushare

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a Client configured to use it.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	c := &Client{
		client:   resty.New().SetBaseURL(server.URL).SetHeader("Content-Type", "application/json"),
		token:    "test_token",
		logger:   zap.NewNop(),
		limiter:  rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		retry:    RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		pageSize: defaultPageSize,
	}
	return c, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func dailyResponse(rows ...[]any) map[string]any {
	return map[string]any{
		"request_id": "abc",
		"code":       0,
		"msg":        "",
		"data": map[string]any{
			"fields": []string{"ts_code", "trade_date", "open", "high", "low", "close", "vol", "amount"},
			"items":  rows,
		},
	}
}

func TestGetDailyData(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req apiRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "daily", req.APIName)
			assert.Equal(t, "test_token", req.Token)
			assert.Equal(t, "000001.SZ", req.Params["ts_code"])
			assert.Equal(t, "20230101", req.Params["start_date"])
			assert.Equal(t, "20230131", req.Params["end_date"])
			assert.Equal(t, dailyFields, req.Fields)

			writeJSON(t, w, dailyResponse(
				[]any{"000001.SZ", "20230104", 13.7, 14.1, 13.5, 14.0, 1200.5, 16800.1},
				[]any{"000001.SZ", "20230103", 13.2, 13.8, 13.1, 13.7, 1000.0, nil},
			))
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		// Act
		bars, err := c.GetDailyData(context.Background(), "000001.SZ",
			time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC))

		// Assert
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC), bars[0].Date)
		assert.Equal(t, "000001.SZ", bars[0].Symbol)
		assert.Equal(t, 14.0, bars[0].Close)
		assert.Equal(t, 1200.5, bars[0].Volume)
		assert.True(t, math.IsNaN(bars[1].Amount), "null becomes NaN")
		assert.Equal(t, int64(1), c.Calls())
	})

	t.Run("Pagination", func(t *testing.T) {
		var requests atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req apiRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			switch requests.Add(1) {
			case 1:
				assert.EqualValues(t, 0, req.Params["offset"])
				writeJSON(t, w, dailyResponse(
					[]any{"A", "20230105", 1.0, 1.0, 1.0, 1.0, 1.0, 1.0},
					[]any{"A", "20230104", 1.0, 1.0, 1.0, 1.0, 1.0, 1.0},
				))
			default:
				assert.EqualValues(t, 2, req.Params["offset"])
				writeJSON(t, w, dailyResponse([]any{"A", "20230103", 1.0, 1.0, 1.0, 1.0, 1.0, 1.0}))
			}
		})
		c, server := setupTestServer(handler)
		defer server.Close()
		c.pageSize = 2

		bars, err := c.GetDailyData(context.Background(), "A", time.Time{}, time.Now())

		require.NoError(t, err)
		assert.Len(t, bars, 3)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("APIError", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"code": 2002, "msg": "invalid token"})
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetDailyData(context.Background(), "A", time.Time{}, time.Now())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 2002, apiErr.Code)
		assert.Equal(t, int64(1), c.Calls(), "API errors are not retried")
	})

	t.Run("EmptyData", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, dailyResponse())
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		bars, err := c.GetDailyData(context.Background(), "A", time.Time{}, time.Now())

		assert.NoError(t, err)
		assert.Empty(t, bars)
	})
}

func TestQuery_Retry(t *testing.T) {
	t.Run("RecoversFromServerError", func(t *testing.T) {
		// Arrange
		var requests atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch requests.Add(1) {
			case 1:
				w.WriteHeader(http.StatusInternalServerError)
			case 2:
				writeJSON(t, w, map[string]any{"code": codeRateLimited, "msg": "too many calls"})
			default:
				writeJSON(t, w, dailyResponse([]any{"A", "20230103", 1.0, 1.0, 1.0, 9.5, 1.0, 1.0}))
			}
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		// Act
		price, err := c.GetLatestPrice(context.Background(), "A")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 9.5, price)
		assert.Equal(t, int32(3), requests.Load())
	})

	t.Run("GivesUpAfterMaxAttempts", func(t *testing.T) {
		var requests atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetLatestPrice(context.Background(), "A")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "request failed")
		assert.Equal(t, int32(3), requests.Load())
	})

	t.Run("ClientErrorIsNotRetried", func(t *testing.T) {
		var requests atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetLatestPrice(context.Background(), "A")

		assert.Error(t, err)
		assert.Equal(t, int32(1), requests.Load())
	})
}

func TestQuery_CallQuota(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, dailyResponse([]any{"A", "20230103", 1.0, 1.0, 1.0, 2.0, 1.0, 1.0}))
	})
	c, server := setupTestServer(handler)
	defer server.Close()
	c.maxCalls = 2

	for i := 0; i < 2; i++ {
		_, err := c.GetLatestPrice(context.Background(), "A")
		require.NoError(t, err)
	}
	_, err := c.GetLatestPrice(context.Background(), "A")

	assert.ErrorIs(t, err, ErrCallQuotaExceeded)
	assert.Equal(t, int64(2), c.Calls())
}

func TestGetLatestPrice_NoRows(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, dailyResponse())
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	_, err := c.GetLatestPrice(context.Background(), "A")

	assert.ErrorIs(t, err, backtest.ErrNoPrice)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2}

	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(2))
	assert.Equal(t, time.Second, RetryPolicy{BaseDelay: time.Second}.Delay(3), "multiplier below 1 keeps the delay constant")
}

func TestNewClient(t *testing.T) {
	cfg := &config.Tushare{
		Token:          "secret",
		BaseURL:        "http://api.tushare.pro",
		RateLimit:      2,
		RateLimitBurst: 1,
		MaxAPICalls:    500,
		Retry:          config.Retry{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2},
	}

	c := NewClient(cfg, zap.NewNop())

	assert.Equal(t, "secret", c.token)
	assert.Equal(t, int64(500), c.maxCalls)
	assert.Equal(t, 3, c.retry.MaxAttempts)
	assert.Equal(t, rate.Limit(2), c.limiter.Limit())
	assert.Equal(t, defaultPageSize, c.pageSize)
}
