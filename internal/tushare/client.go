package tushare

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiDaily    = "daily"
	dailyFields = "ts_code,trade_date,open,high,low,close,vol,amount"
	// defaultPageSize is the maximum number of rows the daily API returns per call.
	defaultPageSize = 6000
	// codeRateLimited is the API error code for exceeding the per-minute call limit.
	codeRateLimited = 40203
)

// ErrCallQuotaExceeded is returned once the client has used its configured number of calls.
var ErrCallQuotaExceeded = errors.New("tushare api call quota exceeded")

// APIError is an error reported in the body of a Tushare response.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tushare api error %d: %s", e.Code, e.Msg)
}

// RetryPolicy describes how failed calls are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Delay returns how long to wait after the given failed attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(m, float64(attempt)))
}

// Client is a client for the Tushare Pro HTTP API. It implements backtest.DataSource
// and is safe for concurrent use.
type Client struct {
	client   *resty.Client
	token    string
	logger   *zap.Logger
	limiter  *rate.Limiter
	retry    RetryPolicy
	maxCalls int64
	pageSize int
	calls    atomic.Int64
}

// ensure Client implements the interface
var _ backtest.DataSource = (*Client)(nil)

// NewClient creates a new Tushare Pro API client.
func NewClient(cfg *config.Tushare, logger *zap.Logger) *Client {
	if cfg.Token == "" {
		logger.Warn("Tushare token is empty, requests will be rejected")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:  client,
		token:   cfg.Token,
		logger:  logger,
		limiter: limiter,
		retry: RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Multiplier:  cfg.Retry.Multiplier,
		},
		maxCalls: int64(cfg.MaxAPICalls),
		pageSize: defaultPageSize,
	}
}

// Calls returns the number of requests sent so far.
func (c *Client) Calls() int64 { return c.calls.Load() }

type apiRequest struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields,omitempty"`
}

type apiResponse struct {
	RequestID string   `json:"request_id"`
	Code      int      `json:"code"`
	Msg       string   `json:"msg"`
	Data      *apiData `json:"data"`
}

type apiData struct {
	Fields []string `json:"fields"`
	Items  [][]any  `json:"items"`
}

// column returns the index of name in the response fields, or -1.
func (d *apiData) column(name string) int {
	for i, f := range d.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// query calls one API with rate limiting, the call quota and retries.
func (c *Client) query(ctx context.Context, apiName string, params map[string]any, fields string) (*apiData, error) {
	body := apiRequest{APIName: apiName, Token: c.token, Params: params, Fields: fields}
	attempts := max(1, c.retry.MaxAttempts)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if c.maxCalls > 0 && c.calls.Load() >= c.maxCalls {
			return nil, fmt.Errorf("%w (%d calls)", ErrCallQuotaExceeded, c.maxCalls)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
		c.calls.Add(1)

		c.logger.Debug("Executing request", zap.String("api", apiName), zap.Any("params", params))
		data, retryable, err := c.do(ctx, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}

		wait := c.retry.Delay(i)
		c.logger.Warn("Request failed, retrying...",
			zap.String("api", apiName),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s request failed: %w", apiName, lastErr)
}

// do sends one request and reports whether a failure is worth retrying.
func (c *Client) do(ctx context.Context, body apiRequest) (*apiData, bool, error) {
	var result apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		ForceContentType("application/json").
		Post("/")
	if err != nil {
		return nil, ctx.Err() == nil, err
	}

	if resp.IsError() {
		status := resp.StatusCode()
		retryable := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
		return nil, retryable, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
	}
	if result.Code != 0 {
		return nil, result.Code == codeRateLimited, &APIError{Code: result.Code, Msg: result.Msg}
	}
	if result.Data == nil {
		return &apiData{}, false, nil
	}
	return result.Data, false, nil
}

// GetDailyData fetches the daily bars of symbol between start and end, inclusive.
func (c *Client) GetDailyData(ctx context.Context, symbol string, start, end time.Time) ([]backtest.Bar, error) {
	var bars []backtest.Bar
	for offset := 0; ; {
		data, err := c.query(ctx, apiDaily, map[string]any{
			"ts_code":    symbol,
			"start_date": start.Format(config.DateLayout),
			"end_date":   end.Format(config.DateLayout),
			"offset":     offset,
			"limit":      c.pageSize,
		}, dailyFields)
		if err != nil {
			return nil, fmt.Errorf("failed to get daily data for %s: %w", symbol, err)
		}

		page, err := parseBars(symbol, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse daily data for %s: %w", symbol, err)
		}
		bars = append(bars, page...)
		if len(data.Items) < c.pageSize {
			break
		}
		offset += len(data.Items)
	}

	c.logger.Debug("Fetched daily data", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return bars, nil
}

// GetLatestPrice returns the most recent daily close of symbol.
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	data, err := c.query(ctx, apiDaily, map[string]any{"ts_code": symbol, "limit": 1}, "ts_code,trade_date,close")
	if err != nil {
		return 0, fmt.Errorf("failed to get latest price for %s: %w", symbol, err)
	}
	idx := data.column("close")
	if idx < 0 || len(data.Items) == 0 {
		return 0, fmt.Errorf("%w for %s", backtest.ErrNoPrice, symbol)
	}
	price := number(data.Items[0], idx)
	if math.IsNaN(price) {
		return 0, fmt.Errorf("%w for %s", backtest.ErrNoPrice, symbol)
	}
	return price, nil
}

// parseBars maps the rows of a daily response onto bars. Missing numbers become NaN.
func parseBars(symbol string, data *apiData) ([]backtest.Bar, error) {
	if len(data.Items) == 0 {
		return nil, nil
	}
	dateIdx := data.column("trade_date")
	if dateIdx < 0 {
		return nil, fmt.Errorf("response has no trade_date field")
	}
	cols := map[string]int{}
	for _, name := range []string{"open", "high", "low", "close", "vol", "amount"} {
		cols[name] = data.column(name)
	}

	bars := make([]backtest.Bar, 0, len(data.Items))
	for _, row := range data.Items {
		raw, _ := value(row, dateIdx).(string)
		date, err := backtest.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		bars = append(bars, backtest.Bar{
			Date:   date,
			Symbol: symbol,
			Open:   number(row, cols["open"]),
			High:   number(row, cols["high"]),
			Low:    number(row, cols["low"]),
			Close:  number(row, cols["close"]),
			Volume: number(row, cols["vol"]),
			Amount: number(row, cols["amount"]),
		})
	}
	return bars, nil
}

func value(row []any, idx int) any {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}

func number(row []any, idx int) float64 {
	if f, ok := value(row, idx).(float64); ok {
		return f
	}
	return math.NaN()
}
