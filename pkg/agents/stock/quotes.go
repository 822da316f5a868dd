package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/evagent/evagent/pkg/config"
)

// Series is the daily price history of one ticker.
type Series struct {
	Ticker    string
	Closes    []float64
	Last      *float64
	PrevClose *float64
}

// ChangePct is the percentage move from the first to the last close.
func (s *Series) ChangePct() float64 {
	if len(s.Closes) < 2 || s.Closes[0] == 0 {
		return 0
	}
	first, last := s.Closes[0], s.Closes[len(s.Closes)-1]
	return (last - first) / first * 100
}

// Current is the latest price, falling back to the last close.
func (s *Series) Current() float64 {
	if s.Last != nil {
		return *s.Last
	}
	if len(s.Closes) > 0 {
		return s.Closes[len(s.Closes)-1]
	}
	return 0
}

// Source fetches price history.
type Source interface {
	Fetch(ctx context.Context, ticker string) (*Series, error)
}

// ErrNoData is returned when a ticker has no usable closes.
var ErrNoData = errors.New("no price data")

// Yahoo reads daily closes from the Yahoo Finance chart endpoint.
type Yahoo struct {
	baseURL    string
	period     string
	httpClient *http.Client
}

func NewYahoo(cfg config.StockConfig, httpClient *http.Client) *Yahoo {
	if httpClient == nil {
		timeout := cfg.Timeout()
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	period := cfg.Range
	if period == "" {
		period = "3mo"
	}
	return &Yahoo{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		period:     period,
		httpClient: httpClient,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				PreviousClose      *float64 `json:"previousClose"`
				ChartPreviousClose *float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) Fetch(ctx context.Context, ticker string) (*Series, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d", y.baseURL, url.PathEscape(ticker), url.QueryEscape(y.period))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; evagent)")
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request for %s failed: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote request for %s returned %d", ticker, resp.StatusCode)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}
	if e := chart.Chart.Error; e != nil {
		return nil, fmt.Errorf("quote request for %s: %s: %s", ticker, e.Code, e.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoData)
	}

	r := chart.Chart.Result[0]
	s := &Series{Ticker: ticker, Last: r.Meta.RegularMarketPrice, PrevClose: r.Meta.PreviousClose}
	if s.PrevClose == nil {
		s.PrevClose = r.Meta.ChartPreviousClose
	}
	if len(r.Indicators.Quote) > 0 {
		for _, c := range r.Indicators.Quote[0].Close {
			if c != nil {
				s.Closes = append(s.Closes, *c)
			}
		}
	}
	if len(s.Closes) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoData)
	}
	return s, nil
}
