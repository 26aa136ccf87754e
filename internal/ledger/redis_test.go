package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketScanner/internal/model"
)

func TestRedisLedger_RecordCrossover(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLedger(rdb, "test")

	ev := crossover("AAPL")
	val, err := encodeCrossover(ev)
	require.NoError(t, err)

	mock.ExpectHExists("test:crossovers", "AAPL").SetVal(false)
	mock.ExpectHSetNX("test:crossovers", "AAPL", val).SetVal(true)
	added, err := l.RecordCrossover(ctx, ev)
	require.NoError(t, err)
	assert.True(t, added)

	mock.ExpectHExists("test:crossovers", "AAPL").SetVal(true)
	added, err = l.RecordCrossover(ctx, ev)
	require.NoError(t, err)
	assert.False(t, added)

	mock.ExpectHExists("test:crossovers", "AAPL").SetVal(true)
	mock.ExpectHDel("test:crossovers", "AAPL").SetVal(1)
	added, err = l.RecordCrossover(ctx, reversal("AAPL"))
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_RecordHigh(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLedger(rdb, "")

	ev := high("MSFT")
	val, err := encodeHigh(ev)
	require.NoError(t, err)

	mock.ExpectHSetNX("scanner:highs", "MSFT", val).SetVal(true)
	mock.ExpectHSetNX("scanner:highs", "MSFT", val).SetVal(false)

	added, err := l.RecordHigh(ctx, ev)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.RecordHigh(ctx, ev)
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_List(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLedger(rdb, "test")

	mock.ExpectHGetAll("test:highs").SetVal(map[string]string{
		"TSLA": `{"company":"Tesla","close":300,"high_date":"2025-06-02"}`,
		"AMD":  `{"company":"AMD","close":150.5,"high_date":"2025-06-01"}`,
	})
	rows, err := l.Highs(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AMD", rows[0].Ticker)
	assert.Equal(t, "Tesla", rows[1].CompanyName)
	assert.True(t, rows[1].HighDate.Equal(crossDate))

	mock.ExpectHGetAll("test:crossovers").SetVal(map[string]string{"BAD": "{"})
	_, err = l.Crossovers(ctx)
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Errors(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLedger(rdb, "test")

	mock.ExpectHExists("test:crossovers", "AAPL").SetErr(errors.New("connection refused"))
	_, err := l.RecordCrossover(ctx, crossover("AAPL"))
	assert.ErrorContains(t, err, "connection refused")

	mock.ExpectHExists("test:highs", "AAPL").SetVal(true)
	ok, err := l.Contains(ctx, model.KindHigh, "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
