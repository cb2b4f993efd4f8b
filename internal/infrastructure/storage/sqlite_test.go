package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_ut_bot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndListOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []domain.OrderStatus{domain.OrderStatusFilled, domain.OrderStatusCancelled} {
		require.NoError(t, store.SaveOrder(ctx, &domain.Order{
			ID:               string(rune('a' + i)),
			ClientOrderIndex: int64(i + 1),
			MarketID:         0,
			Side:             domain.OrderSideBuy,
			Type:             domain.OrderTypeMarket,
			Size:             0.05,
			Price:            2000,
			FilledSize:       0.05,
			FilledPrice:      2001.5,
			Status:           status,
			Leverage:         1,
			MarginMode:       domain.MarginModeCross,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	// Newest first.
	assert.Equal(t, "b", orders[0].ID)
	assert.Equal(t, domain.OrderStatusCancelled, orders[0].Status)
	assert.Equal(t, "a", orders[1].ID)
	assert.Equal(t, 0.05, orders[1].Size)
	assert.Equal(t, 2001.5, orders[1].FilledPrice)
	assert.Equal(t, domain.MarginModeCross, orders[1].MarginMode)
}

func TestSaveOrderUpsertsByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := &domain.Order{
		ID:        "fixed",
		MarketID:  1,
		Side:      domain.OrderSideSell,
		Type:      domain.OrderTypeLimit,
		Size:      1,
		Price:     100,
		Status:    domain.OrderStatusSubmitted,
		Leverage:  1,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveOrder(ctx, order))

	order.Status = domain.OrderStatusFilled
	order.FilledSize = 1
	require.NoError(t, store.SaveOrder(ctx, order))

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusFilled, orders[0].Status)
	assert.Equal(t, 1.0, orders[0].FilledSize)
}

func TestListOrdersLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveOrder(ctx, &domain.Order{
			ID:        string(rune('a' + i)),
			Status:    domain.OrderStatusFilled,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	orders, err := store.ListOrders(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
}

func TestPositionHistoryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	closedAt := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	require.NoError(t, store.SavePositionHistory(ctx, &domain.PositionHistory{
		MarketID:    0,
		Side:        domain.SideLong,
		Size:        0.05,
		EntryPrice:  2000,
		ExitPrice:   2050,
		RealizedPnL: 2.5,
		Leverage:    1,
		ClosedAt:    closedAt,
	}))

	history, err := store.ListPositionHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	h := history[0]
	assert.NotZero(t, h.ID)
	assert.Equal(t, domain.SideLong, h.Side)
	assert.Equal(t, 2000.0, h.EntryPrice)
	assert.Equal(t, 2050.0, h.ExitPrice)
	assert.Equal(t, 2.5, h.RealizedPnL)
	assert.True(t, h.ClosedAt.Equal(closedAt))
}

func TestEmptyStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)

	history, err := store.ListPositionHistory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
