package exchanges

import (
	"testing"

	"aggr-server/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func TestBinanceParseTrade(t *testing.T) {
	d := &binanceDriver{}

	message := []byte(`{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":12345,"p":"42000.50","q":"0.25","T":1700000000099,"m":false}`)
	trades, liquidations, err := d.Parse(message)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Empty(t, liquidations)

	trade := trades[0]
	assert.Equal(t, "BINANCE", trade.Exchange)
	assert.Equal(t, "btcusdt", trade.Pair)
	assert.Equal(t, int64(1700000000099), trade.Timestamp)
	assert.Equal(t, 42000.50, trade.Price)
	assert.Equal(t, 0.25, trade.Size)
	assert.Equal(t, models.SideBuy, trade.Side)
}

// -----------------------------------------------------------------------------

func TestBinanceParseMakerIsSell(t *testing.T) {
	d := &binanceDriver{}

	message := []byte(`{"e":"trade","s":"ETHUSDT","p":"2000","q":"1","T":1,"m":true}`)
	trades, _, err := d.Parse(message)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.SideSell, trades[0].Side)
}

// -----------------------------------------------------------------------------

func TestBinanceParseIgnoresAcks(t *testing.T) {
	d := &binanceDriver{}

	trades, liquidations, err := d.Parse([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Empty(t, liquidations)
}

// -----------------------------------------------------------------------------

func TestBitmexParseTrades(t *testing.T) {
	d := &bitmexDriver{}

	message := []byte(`{"table":"trade","action":"insert","data":[
		{"timestamp":"2023-11-14T22:13:20.000Z","symbol":"XBTUSD","side":"Sell","size":1000,"price":40000}
	]}`)
	trades, liquidations, err := d.Parse(message)
	require.NoError(t, err)
	assert.Empty(t, liquidations)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, "BITMEX", trade.Exchange)
	assert.Equal(t, "XBTUSD", trade.Pair)
	assert.Equal(t, models.SideSell, trade.Side)
	assert.Equal(t, 40000.0, trade.Price)
	assert.InDelta(t, 0.025, trade.Size, 1e-9) // 1000 USD contracts at 40000
}

// -----------------------------------------------------------------------------

func TestBitmexParseLiquidations(t *testing.T) {
	d := &bitmexDriver{}

	message := []byte(`{"table":"liquidation","action":"insert","data":[
		{"orderID":"abc","symbol":"XBTUSD","side":"Buy","price":40000,"leavesQty":2000}
	]}`)
	trades, liquidations, err := d.Parse(message)
	require.NoError(t, err)
	assert.Empty(t, trades)
	require.Len(t, liquidations, 1)

	liq := liquidations[0]
	assert.True(t, liq.Liquidation)
	assert.Equal(t, models.SideBuy, liq.Side)
	assert.InDelta(t, 0.05, liq.Size, 1e-9)
}

// -----------------------------------------------------------------------------

func TestBitmexParseIgnoresPartials(t *testing.T) {
	d := &bitmexDriver{}

	message := []byte(`{"table":"trade","action":"partial","data":[{"symbol":"XBTUSD","side":"Buy","size":1,"price":1}]}`)
	trades, _, err := d.Parse(message)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

// -----------------------------------------------------------------------------

func TestSubscribeFrames(t *testing.T) {
	b := &binanceDriver{}
	frame, ok := b.SubscribeFrame("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, []string{"btcusdt@trade"}, frame.(map[string]interface{})["params"])

	m := &bitmexDriver{}
	frame, ok = m.SubscribeFrame("XBTUSD")
	require.True(t, ok)
	assert.Equal(t, []string{"trade:XBTUSD", "liquidation:XBTUSD"}, frame.(map[string]interface{})["args"])
}
