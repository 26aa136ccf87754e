package collector

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"MarketScanner/internal/retry"
)

// DefaultUniverseURL is the S&P 500 constituents list.
const DefaultUniverseURL = "https://raw.githubusercontent.com/datasets/s-and-p-500-companies/main/data/constituents.csv"

// UniverseSource describes where the ticker universe comes from.
// Symbols wins over File, File wins over URL.
type UniverseSource struct {
	URL     string
	File    string
	Symbols []string
	Column  string // header of the symbol column, default "Symbol"
}

// LoadUniverse returns the ordered, de-duplicated ticker list for one run.
func LoadUniverse(ctx context.Context, client *http.Client, src UniverseSource, policy retry.Policy) ([]string, error) {
	if len(src.Symbols) > 0 {
		return dedupe(src.Symbols), nil
	}
	if src.File != "" {
		f, err := os.Open(src.File)
		if err != nil {
			return nil, fmt.Errorf("open universe file: %w", err)
		}
		defer f.Close()
		return parseUniverse(f, src.Column)
	}

	u := src.URL
	if u == "" {
		u = DefaultUniverseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	var tickers []string
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch universe: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("fetch universe: status %d", resp.StatusCode)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		tickers, err = parseUniverse(resp.Body, src.Column)
		if err != nil {
			return retry.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickers, nil
}

func parseUniverse(r io.Reader, column string) ([]string, error) {
	if column == "" {
		column = "Symbol"
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read universe header: %w", err)
	}
	idx := 0
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), column) {
			idx = i
			break
		}
	}

	var symbols []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read universe: %w", err)
		}
		if idx < len(rec) {
			symbols = append(symbols, rec[idx])
		}
	}
	out := dedupe(symbols)
	if len(out) == 0 {
		return nil, fmt.Errorf("universe has no symbols in column %q", column)
	}
	return out, nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
