package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketScanner/internal/retry"
)

const chartBody = `{"chart":{"result":[{"meta":{"gmtoffset":-18000},
"timestamp":[1735828200,1735914600,1736173800],
"indicators":{"quote":[{"open":[100,101,102],"high":[101,102,103],"low":[99,100,101],
"close":[100.5,null,102.5],"volume":[1000,2000,null]}],
"adjclose":[{"adjclose":[100.4,null,102.4]}]}}],"error":null}}`

func TestYahooFetcher_History(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/BRK-B" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	f := NewYahooFetcher(srv.URL, "")
	frame, err := f.FetchHistory(context.Background(), "BRK.B", "2y", "1d")
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "range=2y")
	assert.Contains(t, gotQuery, "interval=1d")
	require.Equal(t, 3, frame.Len())

	series, err := Normalize("BRK.B", frame)
	require.NoError(t, err)
	require.Equal(t, 2, series.Len(), "null close is dropped")
	assert.Equal(t, day(2025, 1, 2), series.Points[0].Date)
	assert.Equal(t, 100.5, series.Points[0].Close)
	assert.Equal(t, 100.4, series.Points[0].AdjClose)
	assert.Equal(t, day(2025, 1, 6), series.Points[1].Date)
	assert.Equal(t, 0.0, series.Points[1].Volume)
}

func TestYahooFetcher_Range(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"chart":{"result":[{"meta":{},"timestamp":null,"indicators":{"quote":[{}]}}],"error":null}}`))
	}))
	defer srv.Close()

	f := NewYahooFetcher(srv.URL, "")
	start := day(2025, 1, 6)
	frame, err := f.FetchHistoryRange(context.Background(), "AAPL", start, start.AddDate(0, 0, 3), "1d")
	require.NoError(t, err)
	assert.Equal(t, 0, frame.Len())
	assert.Contains(t, gotQuery, "period1=1736121600")
	assert.Contains(t, gotQuery, "period2=1736380800")
}

func TestYahooFetcher_StatusClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	f := NewYahooFetcher(srv.URL, "")

	_, err := f.FetchHistory(context.Background(), "AAPL", "2y", "1d")
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err), "5xx is transient")

	status = http.StatusTooManyRequests
	_, err = f.FetchHistory(context.Background(), "AAPL", "2y", "1d")
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err), "429 is transient")

	status = http.StatusNotFound
	_, err = f.FetchHistory(context.Background(), "AAPL", "2y", "1d")
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err), "404 is permanent")
}

// quoteServer mimics the session flow: /cookie sets the session cookie, getcrumb needs the
// cookie, and the quote endpoint answers 401 unless both cookie and current crumb are sent.
type quoteServer struct {
	mu         sync.Mutex
	crumb      string
	crumbCalls int
	quoteCalls int
}

func (q *quoteServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, cookieErr := r.Cookie("A3")
		switch r.URL.Path {
		case "/cookie":
			http.SetCookie(w, &http.Cookie{Name: "A3", Value: "session", Path: "/"})
			http.NotFound(w, r)
		case "/v1/test/getcrumb":
			q.crumbCalls++
			if cookieErr != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(q.crumb))
		case "/v7/finance/quote":
			q.quoteCalls++
			if cookieErr != nil || r.URL.Query().Get("crumb") != q.crumb {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"finance":{"error":{"code":"Unauthorized","description":"Invalid Crumb"}}}`))
				return
			}
			switch r.URL.Query().Get("symbols") {
			case "AAPL":
				w.Write([]byte(`{"quoteResponse":{"result":[{"symbol":"AAPL","marketCap":3.1e12,"shortName":"Apple Inc."}],"error":null}}`))
			case "NOCAP":
				w.Write([]byte(`{"quoteResponse":{"result":[{"symbol":"NOCAP","longName":"No Cap Corp"}],"error":null}}`))
			default:
				w.Write([]byte(`{"quoteResponse":{"result":[],"error":null}}`))
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}
}

func newQuoteFetcher(t *testing.T, qs *quoteServer) *YahooFetcher {
	t.Helper()
	srv := httptest.NewServer(qs.handler(t))
	t.Cleanup(srv.Close)
	f := NewYahooFetcher(srv.URL, "")
	f.CookieURL = srv.URL + "/cookie"
	return f
}

func TestYahooFetcher_Info(t *testing.T) {
	qs := &quoteServer{crumb: "abc123"}
	f := newQuoteFetcher(t, qs)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := f.FetchInfo(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3.1e12, info.MarketCap)
	assert.Equal(t, "Apple Inc.", info.Name)

	info, err = f.FetchInfo(ctx, "NOCAP")
	require.NoError(t, err)
	assert.Zero(t, info.MarketCap)
	assert.Equal(t, "No Cap Corp", info.Name)

	_, err = f.FetchInfo(ctx, "NONE")
	assert.ErrorIs(t, err, ErrNoData)
	assert.True(t, retry.IsPermanent(err))

	assert.Equal(t, 1, qs.crumbCalls, "crumb is fetched once per session")
	assert.Equal(t, 3, qs.quoteCalls)
}

func TestYahooFetcher_InfoRenewsRejectedCrumb(t *testing.T) {
	qs := &quoteServer{crumb: "first"}
	f := newQuoteFetcher(t, qs)
	ctx := context.Background()

	_, err := f.FetchInfo(ctx, "AAPL")
	require.NoError(t, err)

	qs.mu.Lock()
	qs.crumb = "second"
	qs.mu.Unlock()

	info, err := f.FetchInfo(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3.1e12, info.MarketCap)
	assert.Equal(t, 2, qs.crumbCalls)
	assert.Equal(t, 3, qs.quoteCalls, "one rejected call, then one retry with the new crumb")
}

func TestYahooFetcher_InfoWithoutSessionIsPermanent(t *testing.T) {
	qs := &quoteServer{crumb: "abc123"}
	f := newQuoteFetcher(t, qs)
	f.CookieURL = ""

	_, err := f.FetchInfo(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Zero(t, qs.quoteCalls, "no quote call without a crumb")
}
