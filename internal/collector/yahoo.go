package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"MarketScanner/internal/retry"
)

const (
	defaultYahooBaseURL   = "https://query1.finance.yahoo.com"
	defaultYahooCookieURL = "https://fc.yahoo.com"
)

// YahooFetcher implements Fetcher using Yahoo Finance public API.
// The quote endpoint needs a session cookie plus a matching crumb; both are obtained lazily
// and the crumb is renewed once when the provider rejects it.
type YahooFetcher struct {
	BaseURL   string
	CookieURL string
	Client    *http.Client
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker

	mu    sync.Mutex
	crumb string
}

// statusError is a non-200 provider answer.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("yahoo: status %d", e.Code)
	}
	return fmt.Sprintf("yahoo: status %d, body: %s", e.Code, e.Body)
}

func isUnauthorized(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(baseURL, proxyURL string) *YahooFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	jar, _ := cookiejar.New(nil)
	return &YahooFetcher{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		CookieURL: defaultYahooCookieURL,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
			Jar:       jar,
		},
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

// yahooSymbol maps constituent-list spellings (BRK.B) to Yahoo's (BRK-B).
func (f *YahooFetcher) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	return strings.ReplaceAll(symbol, ".", "-")
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				GMTOffset int64 `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooQuote struct {
	QuoteResponse struct {
		Result []struct {
			Symbol    string   `json:"symbol"`
			MarketCap *float64 `json:"marketCap"`
			ShortName string   `json:"shortName"`
			LongName  string   `json:"longName"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"quoteResponse"`
}

// yahooColumns is the canonical header the chart adapter emits.
var yahooColumns = []string{"Open", "High", "Low", "Close", "Adj Close", "Volume"}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return math.NaN()
	}
	return *values[i]
}

func (f *YahooFetcher) FetchHistory(ctx context.Context, symbol, period, interval string) (*Frame, error) {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", interval)
	q.Set("events", "div,splits")
	return f.fetchChart(ctx, symbol, q)
}

func (f *YahooFetcher) FetchHistoryRange(ctx context.Context, symbol string, start, end time.Time, interval string) (*Frame, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", interval)
	q.Set("events", "div,splits")
	return f.fetchChart(ctx, symbol, q)
}

func (f *YahooFetcher) fetchChart(ctx context.Context, symbol string, q url.Values) (*Frame, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)), q.Encode())

	body, err := f.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, retry.Permanent(fmt.Errorf("yahoo decode: %w", err))
	}
	if chart.Chart.Error != nil {
		return nil, retry.Permanent(fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description))
	}
	frame := &Frame{Columns: yahooColumns}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return frame, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, retry.Permanent(fmt.Errorf("yahoo: %s: %w: quote block", symbol, ErrMissingColumn))
	}
	quote := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	offset := time.Duration(result.Meta.GMTOffset) * time.Second
	for i, ts := range result.Timestamp {
		// Daily bars are stamped at the exchange open; shift to exchange-local time before taking the date.
		date := time.Unix(ts, 0).UTC().Add(offset)
		frame.Append(date, []float64{
			at(quote.Open, i),
			at(quote.High, i),
			at(quote.Low, i),
			at(quote.Close, i),
			at(adj, i),
			at(quote.Volume, i),
		})
	}
	return frame, nil
}

func (f *YahooFetcher) FetchInfo(ctx context.Context, symbol string) (CompanyInfo, error) {
	body, err := f.quote(ctx, symbol, false)
	if isUnauthorized(err) {
		body, err = f.quote(ctx, symbol, true)
	}
	if err != nil {
		return CompanyInfo{}, err
	}
	var quote yahooQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return CompanyInfo{}, retry.Permanent(fmt.Errorf("yahoo decode quote: %w", err))
	}
	if quote.QuoteResponse.Error != nil {
		return CompanyInfo{}, retry.Permanent(fmt.Errorf("yahoo api error: %s", quote.QuoteResponse.Error.Description))
	}
	if len(quote.QuoteResponse.Result) == 0 {
		return CompanyInfo{}, retry.Permanent(fmt.Errorf("yahoo quote %s: %w", symbol, ErrNoData))
	}

	r := quote.QuoteResponse.Result[0]
	info := CompanyInfo{Name: r.ShortName}
	if info.Name == "" {
		info.Name = r.LongName
	}
	if r.MarketCap != nil {
		info.MarketCap = *r.MarketCap
	}
	return info, nil
}

func (f *YahooFetcher) quote(ctx context.Context, symbol string, renew bool) ([]byte, error) {
	crumb, err := f.sessionCrumb(ctx, renew)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbols", f.yahooSymbol(symbol))
	q.Set("crumb", crumb)
	return f.get(ctx, fmt.Sprintf("%s/v7/finance/quote?%s", f.BaseURL, q.Encode()))
}

// sessionCrumb returns the cached crumb, or performs the cookie and crumb handshake.
func (f *YahooFetcher) sessionCrumb(ctx context.Context, renew bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crumb != "" && !renew {
		return f.crumb, nil
	}

	if f.CookieURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.CookieURL, nil)
		if err != nil {
			return "", retry.Permanent(err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		resp, err := f.Client.Do(req)
		if err != nil {
			return "", fmt.Errorf("yahoo cookie: %w", err)
		}
		// The cookie endpoint answers 404 while still setting the session cookie.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	body, err := f.get(ctx, f.BaseURL+"/v1/test/getcrumb")
	if err != nil {
		return "", fmt.Errorf("yahoo crumb: %w", err)
	}
	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.ContainsAny(crumb, "{<") {
		return "", fmt.Errorf("yahoo crumb: unexpected body %q", truncate(body, 80))
	}
	f.crumb = crumb
	return crumb, nil
}

// get performs a GET and classifies failures: 429 and 5xx stay retryable, other statuses are permanent.
func (f *YahooFetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &statusError{Code: resp.StatusCode}
	default:
		return nil, retry.Permanent(&statusError{Code: resp.StatusCode, Body: truncate(body, 200)})
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
