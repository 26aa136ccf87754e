package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/redis/go-redis/v9"

	"MarketScanner/internal/model"
)

const defaultNamespace = "scanner"

// RedisLedger stores each ledger as a hash keyed by ticker with JSON values.
type RedisLedger struct {
	client    redis.Cmdable
	closer    func() error
	namespace string
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int, namespace string) (*RedisLedger, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Printf("[INFO] redis ledger connected: %s", addr)
	l := NewRedisLedger(rdb, namespace)
	l.closer = rdb.Close
	return l, nil
}

// NewRedisLedger wraps an existing client.
func NewRedisLedger(client redis.Cmdable, namespace string) *RedisLedger {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &RedisLedger{client: client, namespace: namespace}
}

func (l *RedisLedger) key(kind model.SignalKind) string {
	if kind == model.KindHigh {
		return l.namespace + ":highs"
	}
	return l.namespace + ":crossovers"
}

type crossoverRecord struct {
	SMA20         float64 `json:"sma20"`
	SMA50         float64 `json:"sma50"`
	SMA200        float64 `json:"sma200"`
	Close         float64 `json:"close"`
	CrossoverDate string  `json:"crossover_date"`
}

type highRecord struct {
	Company  string  `json:"company"`
	Close    float64 `json:"close"`
	HighDate string  `json:"high_date"`
}

func encodeCrossover(ev model.CrossoverEvent) (string, error) {
	b, err := json.Marshal(crossoverRecord{
		SMA20:         ev.SMA20,
		SMA50:         ev.SMA50,
		SMA200:        ev.SMA200,
		Close:         ev.Close,
		CrossoverDate: formatDate(ev.CrossoverDate),
	})
	return string(b), err
}

func encodeHigh(ev model.HighEvent) (string, error) {
	b, err := json.Marshal(highRecord{
		Company:  ev.CompanyName,
		Close:    ev.Close,
		HighDate: formatDate(ev.HighDate),
	})
	return string(b), err
}

func (l *RedisLedger) RecordCrossover(ctx context.Context, ev model.CrossoverEvent) (bool, error) {
	key := l.key(model.KindCrossover)
	present, err := l.client.HExists(ctx, key, ev.Ticker).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists: %w", err)
	}

	switch decideCrossover(present, ev) {
	case actionRemove:
		if err := l.client.HDel(ctx, key, ev.Ticker).Err(); err != nil {
			return false, fmt.Errorf("redis hdel: %w", err)
		}
	case actionInsert:
		val, err := encodeCrossover(ev)
		if err != nil {
			return false, err
		}
		ok, err := l.client.HSetNX(ctx, key, ev.Ticker, val).Result()
		if err != nil {
			return false, fmt.Errorf("redis hsetnx: %w", err)
		}
		return ok, nil
	}
	return false, nil
}

func (l *RedisLedger) RecordHigh(ctx context.Context, ev model.HighEvent) (bool, error) {
	val, err := encodeHigh(ev)
	if err != nil {
		return false, err
	}
	ok, err := l.client.HSetNX(ctx, l.key(model.KindHigh), ev.Ticker, val).Result()
	if err != nil {
		return false, fmt.Errorf("redis hsetnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Contains(ctx context.Context, kind model.SignalKind, ticker string) (bool, error) {
	return l.client.HExists(ctx, l.key(kind), ticker).Result()
}

func (l *RedisLedger) Crossovers(ctx context.Context) ([]model.CrossoverEvent, error) {
	all, err := l.client.HGetAll(ctx, l.key(model.KindCrossover)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.CrossoverEvent, 0, len(all))
	for ticker, raw := range all {
		var rec crossoverRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode crossover %s: %w", ticker, err)
		}
		date, err := parseDate(rec.CrossoverDate)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CrossoverEvent{
			Ticker:        ticker,
			SMA20:         rec.SMA20,
			SMA50:         rec.SMA50,
			SMA200:        rec.SMA200,
			Close:         rec.Close,
			CrossoverDate: date,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (l *RedisLedger) Highs(ctx context.Context) ([]model.HighEvent, error) {
	all, err := l.client.HGetAll(ctx, l.key(model.KindHigh)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.HighEvent, 0, len(all))
	for ticker, raw := range all {
		var rec highRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode high %s: %w", ticker, err)
		}
		date, err := parseDate(rec.HighDate)
		if err != nil {
			return nil, err
		}
		out = append(out, model.HighEvent{Ticker: ticker, CompanyName: rec.Company, Close: rec.Close, HighDate: date})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (l *RedisLedger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}
