package exchanges

import (
	"encoding/json"
	"time"

	"aggr-server/src/interfaces"
	"aggr-server/src/logger"
	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// BitMEX adapter. One realtime socket carries every symbol; liquidations
// come in on their own table and feed the liquidation ingest path.
// -----------------------------------------------------------------------------

const (
	bitmexWsURL       = "wss://ws.bitmex.com/realtime"
	bitmexProductsURL = "https://www.bitmex.com/api/v1/instrument/active"

	bitmexMaxPairsPerAPI = 50
)

// -----------------------------------------------------------------------------

type bitmexDriver struct{}

// -----------------------------------------------------------------------------

// NewBitmex builds the BitMEX adapter.
func NewBitmex(cfg *models.MConfig, netMgr interfaces.INetworkManager) *BaseExchange {
	return NewBaseExchange(&bitmexDriver{}, netMgr, logger.NewLogger(cfg, "BITMEX"))
}

// -----------------------------------------------------------------------------

func (d *bitmexDriver) ID() string {
	return "BITMEX"
}

func (d *bitmexDriver) URL() string {
	return bitmexWsURL
}

func (d *bitmexDriver) MaxConnectionsPerAPI() int {
	return bitmexMaxPairsPerAPI
}

// -----------------------------------------------------------------------------

func (d *bitmexDriver) FetchProducts(nm interfaces.INetworkManager) ([]string, error) {
	var instruments []struct {
		Symbol string `json:"symbol"`
	}
	if err := nm.GetJSON(bitmexProductsURL, map[string]string{"columns": "symbol"}, &instruments); err != nil {
		return nil, err
	}

	products := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		products = append(products, inst.Symbol)
	}
	return products, nil
}

// -----------------------------------------------------------------------------

func (d *bitmexDriver) SubscribeFrame(pair string) (interface{}, bool) {
	return map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"trade:" + pair, "liquidation:" + pair},
	}, true
}

func (d *bitmexDriver) UnsubscribeFrame(pair string) (interface{}, bool) {
	return map[string]interface{}{
		"op":   "unsubscribe",
		"args": []string{"trade:" + pair, "liquidation:" + pair},
	}, true
}

// -----------------------------------------------------------------------------

type bitmexMessage struct {
	Table  string `json:"table"`
	Action string `json:"action"`
	Data   []struct {
		Timestamp time.Time `json:"timestamp"`
		Symbol    string    `json:"symbol"`
		Side      string    `json:"side"`
		Size      float64   `json:"size"`
		Price     float64   `json:"price"`
		LeavesQty float64   `json:"leavesQty"`
	} `json:"data"`
}

// -----------------------------------------------------------------------------

func (d *bitmexDriver) Parse(message []byte) ([]models.MTrade, []models.MTrade, error) {
	var event bitmexMessage
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, nil, err
	}
	if event.Action != "insert" || len(event.Data) == 0 {
		return nil, nil, nil
	}

	switch event.Table {
	case "trade":
		trades := make([]models.MTrade, 0, len(event.Data))
		for _, row := range event.Data {
			if row.Price <= 0 || row.Size <= 0 {
				continue
			}
			trades = append(trades, models.MTrade{
				Exchange:  d.ID(),
				Pair:      row.Symbol,
				Timestamp: row.Timestamp.UnixMilli(),
				Price:     row.Price,
				// Contracts are USD-denominated; convert to base size
				Size: row.Size / row.Price,
				Side: bitmexSide(row.Side),
			})
		}
		return trades, nil, nil

	case "liquidation":
		liquidations := make([]models.MTrade, 0, len(event.Data))
		for _, row := range event.Data {
			if row.Price <= 0 || row.LeavesQty <= 0 {
				continue
			}
			liquidations = append(liquidations, models.MTrade{
				Exchange:    d.ID(),
				Pair:        row.Symbol,
				Timestamp:   time.Now().UnixMilli(),
				Price:       row.Price,
				Size:        row.LeavesQty / row.Price,
				Side:        bitmexSide(row.Side),
				Liquidation: true,
			})
		}
		return nil, liquidations, nil
	}

	return nil, nil, nil
}

// -----------------------------------------------------------------------------

func bitmexSide(side string) string {
	if side == "Sell" {
		return models.SideSell
	}
	return models.SideBuy
}
