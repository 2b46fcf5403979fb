package exchanges

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"aggr-server/src/interfaces"
	"aggr-server/src/logger"
	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// Binance spot adapter. Subscriptions go over a shared /ws endpoint using
// SUBSCRIBE frames; trades arrive on per-pair @trade streams.
// -----------------------------------------------------------------------------

const (
	binanceWsURL       = "wss://stream.binance.com:9443/ws"
	binanceProductsURL = "https://api.binance.com/api/v3/exchangeInfo"

	// Binance rejects combined sockets past 1024 streams; stay well under
	binanceMaxPairsPerAPI = 200
)

// -----------------------------------------------------------------------------

type binanceDriver struct {
	requestID atomic.Int64
}

// -----------------------------------------------------------------------------

// NewBinance builds the Binance adapter.
func NewBinance(cfg *models.MConfig, netMgr interfaces.INetworkManager) *BaseExchange {
	return NewBaseExchange(&binanceDriver{}, netMgr, logger.NewLogger(cfg, "BINANCE"))
}

// -----------------------------------------------------------------------------

func (d *binanceDriver) ID() string {
	return "BINANCE"
}

func (d *binanceDriver) URL() string {
	return binanceWsURL
}

func (d *binanceDriver) MaxConnectionsPerAPI() int {
	return binanceMaxPairsPerAPI
}

// -----------------------------------------------------------------------------

func (d *binanceDriver) FetchProducts(nm interfaces.INetworkManager) ([]string, error) {
	var payload struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := nm.GetJSON(binanceProductsURL, nil, &payload); err != nil {
		return nil, err
	}

	products := make([]string, 0, len(payload.Symbols))
	for _, sym := range payload.Symbols {
		if sym.Status == "TRADING" {
			products = append(products, strings.ToLower(sym.Symbol))
		}
	}
	return products, nil
}

// -----------------------------------------------------------------------------

func (d *binanceDriver) SubscribeFrame(pair string) (interface{}, bool) {
	return map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{strings.ToLower(pair) + "@trade"},
		"id":     d.requestID.Add(1),
	}, true
}

func (d *binanceDriver) UnsubscribeFrame(pair string) (interface{}, bool) {
	return map[string]interface{}{
		"method": "UNSUBSCRIBE",
		"params": []string{strings.ToLower(pair) + "@trade"},
		"id":     d.requestID.Add(1),
	}, true
}

// -----------------------------------------------------------------------------

// binanceTrade is the @trade stream event.
type binanceTrade struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	Maker     bool   `json:"m"` // buyer is maker: aggressor sold
}

// -----------------------------------------------------------------------------

func (d *binanceDriver) Parse(message []byte) ([]models.MTrade, []models.MTrade, error) {
	var event binanceTrade
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, nil, err
	}
	if event.Event != "trade" {
		// Subscription acks and other housekeeping
		return nil, nil, nil
	}

	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("price %q: %w", event.Price, err)
	}
	size, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("quantity %q: %w", event.Quantity, err)
	}

	side := models.SideBuy
	if event.Maker {
		side = models.SideSell
	}

	return []models.MTrade{{
		Exchange:  d.ID(),
		Pair:      strings.ToLower(event.Symbol),
		Timestamp: event.TradeTime,
		Price:     price,
		Size:      size,
		Side:      side,
	}}, nil, nil
}
