package analysis

import (
	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// Trade resampler: collapses trade sequences into fixed-timeframe OHLCV bars.
// The point-format storage buckets every flushed batch through here before
// insert, and re-buckets stored bars on fetch.
// -----------------------------------------------------------------------------

// BucketStart returns the start of the timeframe bucket containing ts.
func BucketStart(ts, timeframe int64) int64 {
	return ts - (ts % timeframe)
}

// -----------------------------------------------------------------------------

type barKey struct {
	market string
	bucket int64
}

// -----------------------------------------------------------------------------

// ResampleTrades groups a trade batch into one bar per (market, bucket).
// Bars come out in first-seen order, which for an arrival-ordered batch means
// chronological per market. Buy/sell volumes are quote volumes (price*size);
// liquidation volume is tracked separately per side.
func ResampleTrades(trades []models.MTrade, timeframe int64) []models.MPoint {
	if timeframe <= 0 || len(trades) == 0 {
		return nil
	}

	bars := make(map[barKey]*models.MPoint)
	var order []barKey

	for i := range trades {
		t := &trades[i]
		key := barKey{market: t.Market(), bucket: BucketStart(t.Timestamp, timeframe)}

		bar, ok := bars[key]
		if !ok {
			bar = &models.MPoint{
				Market:    key.market,
				Timestamp: key.bucket,
				Open:      t.Price,
				High:      t.Price,
				Low:       t.Price,
				Close:     t.Price,
			}
			bars[key] = bar
			order = append(order, key)
		}

		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Close = t.Price

		volume := t.Price * t.Size
		if t.Side == models.SideBuy {
			bar.Vbuy += volume
			bar.Cbuy++
			if t.Liquidation {
				bar.Lbuy += volume
			}
		} else {
			bar.Vsell += volume
			bar.Csell++
			if t.Liquidation {
				bar.Lsell += volume
			}
		}
	}

	out := make([]models.MPoint, 0, len(order))
	for _, key := range order {
		out = append(out, *bars[key])
	}
	return out
}

// -----------------------------------------------------------------------------

// ResamplePoints re-buckets already aggregated bars into a coarser timeframe.
// Input must be ordered by timestamp per market (the storage query guarantees
// this); the first bar of a bucket supplies the open, the last the close.
func ResamplePoints(points []models.MPoint, timeframe int64) []models.MPoint {
	if timeframe <= 0 || len(points) == 0 {
		return nil
	}

	bars := make(map[barKey]*models.MPoint)
	var order []barKey

	for i := range points {
		p := &points[i]
		key := barKey{market: p.Market, bucket: BucketStart(p.Timestamp, timeframe)}

		bar, ok := bars[key]
		if !ok {
			clone := *p
			clone.Timestamp = key.bucket
			bars[key] = &clone
			order = append(order, key)
			continue
		}

		if p.High > bar.High {
			bar.High = p.High
		}
		if p.Low < bar.Low {
			bar.Low = p.Low
		}
		bar.Close = p.Close
		bar.Vbuy += p.Vbuy
		bar.Vsell += p.Vsell
		bar.Cbuy += p.Cbuy
		bar.Csell += p.Csell
		bar.Lbuy += p.Lbuy
		bar.Lsell += p.Lsell
	}

	out := make([]models.MPoint, 0, len(order))
	for _, key := range order {
		out = append(out, *bars[key])
	}
	return out
}
