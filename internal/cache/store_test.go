package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memCounter int

// openTestStore opens a private in-memory database per test.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	memCounter++
	s, err := Open(fmt.Sprintf("file:storetest%d?mode=memory&cache=shared", memCounter))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndLatestActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	id, err := s.Insert(ctx, Entry{
		IndicatorType: "sp500",
		Data:          json.RawMessage(`{"symbol":"SPY","price":512.34}`),
		Metadata:      json.RawMessage(`{"provider":"alphavantage"}`),
		Source:        "alphavantage",
		CreatedAt:     created,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.LatestActive(ctx, "sp500")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "sp500", got.IndicatorType)
	assert.Equal(t, "alphavantage", got.Source)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.JSONEq(t, `{"symbol":"SPY","price":512.34}`, string(got.Data))
	assert.JSONEq(t, `{"provider":"alphavantage"}`, string(got.Metadata))
}

func TestStore_LatestActive_NoEntry(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LatestActive(context.Background(), "vix")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RefreshDeactivatesPriorEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	first, err := s.Insert(ctx, Entry{IndicatorType: "cpi", Data: json.RawMessage(`{"v":1}`), CreatedAt: t1})
	require.NoError(t, err)
	second, err := s.Insert(ctx, Entry{IndicatorType: "cpi", Data: json.RawMessage(`{"v":2}`), CreatedAt: t2})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	got, err := s.LatestActive(ctx, "cpi")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second, got.ID)
	assert.JSONEq(t, `{"v":2}`, string(got.Data))
}

func TestStore_IndicatorTypesIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, Entry{IndicatorType: "sp500", Data: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)
	_, err = s.Insert(ctx, Entry{IndicatorType: "vix", Data: json.RawMessage(`{"v":2}`)})
	require.NoError(t, err)

	sp, err := s.LatestActive(ctx, "sp500")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.JSONEq(t, `{"v":1}`, string(sp.Data))

	vix, err := s.LatestActive(ctx, "vix")
	require.NoError(t, err)
	require.NotNil(t, vix)
	assert.JSONEq(t, `{"v":2}`, string(vix.Data))
}

func TestStore_Deactivate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, Entry{IndicatorType: "fear_greed", Data: json.RawMessage(`{"v":55}`)})
	require.NoError(t, err)
	require.NoError(t, s.Deactivate(ctx, id))

	got, err := s.LatestActive(ctx, "fear_greed")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_InsertRequiresIndicatorType(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Insert(context.Background(), Entry{Data: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestStore_ExpiresAtRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	_, err := s.Insert(ctx, Entry{IndicatorType: "treasury_10y", Data: json.RawMessage(`{}`), ExpiresAt: exp})
	require.NoError(t, err)

	got, err := s.LatestActive(ctx, "treasury_10y")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ExpiresAt.Equal(exp))
}
