package server

import (
	"testing"

	"aggr-server/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func drainFrames(c *Client) [][2]interface{} {
	var frames [][2]interface{}
	for {
		select {
		case msg := <-c.send:
			frames = append(frames, msg.([2]interface{}))
		default:
			return frames
		}
	}
}

// -----------------------------------------------------------------------------

// Each client receives at most one frame per subscribed pair per dispatch,
// in its subscription order.
func TestDeliverTradesGroupsByMarket(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	subscribed := &Client{send: make(chan interface{}, 16), pairs: []string{"X:ETH", "X:BTC"}}
	other := &Client{send: make(chan interface{}, 16), pairs: []string{"Y:ZZZ"}}
	s.clients[subscribed] = struct{}{}
	s.clients[other] = struct{}{}

	batch := &tradeBatch{groups: map[string][]models.MTrade{
		"X:BTC": {
			tr("X", "BTC", 1000, models.SideBuy, 100, 1),
			tr("X", "BTC", 1001, models.SideSell, 101, 1),
		},
		"X:ETH": {
			tr("X", "ETH", 1000, models.SideBuy, 50, 1),
		},
	}}

	s.deliverTrades(batch)

	frames := drainFrames(subscribed)
	require.Len(t, frames, 2)
	assert.Equal(t, "X:ETH", frames[0][0]) // subscription order, not batch order
	assert.Equal(t, "X:BTC", frames[1][0])
	assert.Len(t, frames[1][1], 2)

	assert.Empty(t, drainFrames(other))
}

// -----------------------------------------------------------------------------

// A client whose buffer is full gets pruned instead of blocking the hub.
func TestDeliverTradesPrunesSlowClients(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	slow := &Client{send: make(chan interface{}), pairs: []string{"X:BTC"}} // unbuffered, never read
	s.clients[slow] = struct{}{}

	batch := &tradeBatch{groups: map[string][]models.MTrade{
		"X:BTC": {tr("X", "BTC", 1000, models.SideBuy, 100, 1)},
	}}

	s.deliverTrades(batch)

	assert.NotContains(t, s.clients, slow)
}

// -----------------------------------------------------------------------------

func TestParsePairList(t *testing.T) {
	assert.Equal(t, []string{"X:BTC", "Y:ETH"}, parsePairList("/X:BTC+Y:ETH"))
	assert.Equal(t, []string{"X:BTC"}, parsePairList("X:BTC++"))
	assert.Nil(t, parsePairList("/"))
	assert.Nil(t, parsePairList(""))
}

// -----------------------------------------------------------------------------

func TestWelcomeEnvelopeListsProductsAndExchanges(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	s.OnIndex("X", []string{"BTC", "ETH"})
	s.OnIndex("Y", []string{"BTC"})
	s.mu.Lock()
	s.connectedExchanges["X"] = true
	s.mu.Unlock()

	welcome := s.welcomeEnvelope()
	assert.Equal(t, "welcome", welcome.Type)
	assert.Equal(t, []string{"BTC", "ETH"}, welcome.Pairs)
	assert.Equal(t, []string{"X"}, welcome.Exchanges)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 2, s.indexedProducts["BTC"].Count)
	assert.Equal(t, []string{"X", "Y"}, s.indexedProducts["BTC"].Exchanges)
}
