package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_ut_bot/internal/domain"
	"go.uber.org/zap"
)

func newDispatchAdapter() *LighterAdapter {
	return NewLighterAdapter("http://unused", "ws://unused", "", 7, 0, zap.NewNop())
}

func TestDispatchOrderBookUpdate(t *testing.T) {
	a := newDispatchAdapter()

	var gotID int
	var gotBook *domain.OrderBook
	a.OnOrderBookUpdate(func(marketID int, book *domain.OrderBook) {
		gotID = marketID
		gotBook = book
	})

	a.dispatch([]byte(`{
		"type":"update/order_book",
		"channel":"order_book/0",
		"market_id":0,
		"order_book":{
			"bids":[{"price":"1999.5","size":"2"}],
			"asks":[{"price":"2000.5","size":"1"}]
		}
	}`))

	require.NotNil(t, gotBook)
	assert.Equal(t, 0, gotID)
	require.Len(t, gotBook.Bids, 1)
	assert.Equal(t, 1999.5, gotBook.Bids[0].Price)
	assert.Equal(t, 2.0, gotBook.Bids[0].Size)
	require.Len(t, gotBook.Asks, 1)
	assert.Equal(t, 2000.5, gotBook.Asks[0].Price)
}

func TestDispatchMarketIDAsString(t *testing.T) {
	// The feed sometimes quotes market_id; json.Number accepts both.
	a := newDispatchAdapter()

	var gotID int
	a.OnOrderBookUpdate(func(marketID int, book *domain.OrderBook) { gotID = marketID })

	a.dispatch([]byte(`{
		"type":"subscribed/order_book",
		"market_id":"3",
		"order_book":{"bids":[],"asks":[]}
	}`))
	assert.Equal(t, 3, gotID)
}

func TestDispatchAccountUpdate(t *testing.T) {
	a := newDispatchAdapter()

	var gotAccount int
	var gotRaw []byte
	a.OnAccountUpdate(func(accountID int, raw []byte) {
		gotAccount = accountID
		gotRaw = raw
	})

	a.dispatch([]byte(`{"type":"update/account","account_id":7,"data":{"collateral":"100"}}`))
	assert.Equal(t, 7, gotAccount)
	assert.JSONEq(t, `{"collateral":"100"}`, string(gotRaw))
}

func TestDispatchIgnoresMalformedAndUnknown(t *testing.T) {
	a := newDispatchAdapter()

	called := false
	a.OnOrderBookUpdate(func(int, *domain.OrderBook) { called = true })

	a.dispatch([]byte(`not json`))
	a.dispatch([]byte(`{"type":"ping"}`))
	a.dispatch([]byte(`{"type":"update/order_book","market_id":0}`))
	a.dispatch([]byte(`{"type":"update/order_book","market_id":"abc","order_book":{}}`))
	assert.False(t, called)
}

func TestParseWSOrderBook(t *testing.T) {
	book := parseWSOrderBook(2, []byte(`{
		"bids":[{"price":"100","size":"1"},{"price":"99","size":"2"}],
		"asks":[]
	}`))
	require.NotNil(t, book)
	assert.Equal(t, 2, book.MarketID)
	assert.Len(t, book.Bids, 2)
	assert.Empty(t, book.Asks)

	assert.Nil(t, parseWSOrderBook(2, nil))
	assert.Nil(t, parseWSOrderBook(2, []byte(`[`)))
}
