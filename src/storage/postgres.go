package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aggr-server/src/analysis"
	"aggr-server/src/helpers"
	"aggr-server/src/logger"
	"aggr-server/src/models"

	"github.com/lib/pq"
)

// Base bucket size for stored bars. Fetches for coarser timeframes re-bucket
// on the way out; finer timeframes are not representable.
const basePointTimeframe int64 = 10_000

// -----------------------------------------------------------------------------

// PostgresStorage keeps pre-bucketed OHLCV bars (point format).
type PostgresStorage struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresStorage(cfg *models.MConfig, log *logger.Logger) (*PostgresStorage, error) {
	// Schema named after the executable so several deployments can share a cluster
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresStorage{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStorage) Name() string {
	return "postgres"
}

// -----------------------------------------------------------------------------

func (d *PostgresStorage) Format() models.StorageFormat {
	return models.FormatPoint
}

// -----------------------------------------------------------------------------

func (d *PostgresStorage) Connect() error {
	dsn := d.Config.DB.PostgresDSN
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return helpers.NewStorageError("postgres unreachable", err)
	}

	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresStorage initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStorage) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."bars" (
			market TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			vbuy DOUBLE PRECISION NOT NULL DEFAULT 0,
			vsell DOUBLE PRECISION NOT NULL DEFAULT 0,
			cbuy BIGINT NOT NULL DEFAULT 0,
			csell BIGINT NOT NULL DEFAULT 0,
			lbuy DOUBLE PRECISION NOT NULL DEFAULT 0,
			lsell DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (market, timestamp)
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create bars: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save buckets the flushed batch into base-timeframe bars and upserts them.
// A bar that already exists (two flushes hitting the same bucket) is merged:
// open stays, close/high/low/volumes combine.
func (d *PostgresStorage) Save(trades []models.MTrade, isExit bool) error {
	bars := analysis.ResampleTrades(trades, basePointTimeframe)
	if len(bars) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO "%s"."bars"
			(market, timestamp, open, high, low, close, vbuy, vsell, cbuy, csell, lbuy, lsell)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (market, timestamp) DO UPDATE SET
			high = GREATEST("%s"."bars".high, EXCLUDED.high),
			low = LEAST("%s"."bars".low, EXCLUDED.low),
			close = EXCLUDED.close,
			vbuy = "%s"."bars".vbuy + EXCLUDED.vbuy,
			vsell = "%s"."bars".vsell + EXCLUDED.vsell,
			cbuy = "%s"."bars".cbuy + EXCLUDED.cbuy,
			csell = "%s"."bars".csell + EXCLUDED.csell,
			lbuy = "%s"."bars".lbuy + EXCLUDED.lbuy,
			lsell = "%s"."bars".lsell + EXCLUDED.lsell
	`, d.Schema, d.Schema, d.Schema, d.Schema, d.Schema, d.Schema, d.Schema, d.Schema, d.Schema)

	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range bars {
		b := &bars[i]
		if _, err := stmt.Exec(b.Market, b.Timestamp, b.Open, b.High, b.Low, b.Close,
			b.Vbuy, b.Vsell, b.Cbuy, b.Csell, b.Lbuy, b.Lsell); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to upsert bar %s@%d: %w", b.Market, b.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if isExit {
		d.Logger.Info("Final flush complete (%d bars)", len(bars))
	}
	return nil
}

// -----------------------------------------------------------------------------

// Fetch returns bars in [from, to), re-bucketed to the requested timeframe
// when it is coarser than the stored base.
func (d *PostgresStorage) Fetch(req models.MFetchRequest) (*models.MFetchResult, error) {
	query := fmt.Sprintf(`
		SELECT market, timestamp, open, high, low, close, vbuy, vsell, cbuy, csell, lbuy, lsell
		FROM "%s"."bars"
		WHERE timestamp >= $1 AND timestamp < $2
	`, d.Schema)
	args := []interface{}{req.From, req.To}

	if len(req.Markets) > 0 {
		query += " AND market = ANY($3)"
		args = append(args, pq.Array(req.Markets))
	}

	query += " ORDER BY market, timestamp ASC"

	rows, err := d.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.MPoint
	for rows.Next() {
		var p models.MPoint
		if err := rows.Scan(&p.Market, &p.Timestamp, &p.Open, &p.High, &p.Low, &p.Close,
			&p.Vbuy, &p.Vsell, &p.Cbuy, &p.Csell, &p.Lbuy, &p.Lsell); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if req.Timeframe > basePointTimeframe {
		points = analysis.ResamplePoints(points, req.Timeframe)
	}

	return &models.MFetchResult{Format: models.FormatPoint, Points: points}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStorage) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
