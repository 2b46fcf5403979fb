package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"aggr-server/src/logger"
	"aggr-server/src/models"

	_ "modernc.org/sqlite"
)

// SQLite batch constants
const (
	sqliteMaxVars   = 32000
	paramsPerTrade  = 7
	sqliteBatchSize = sqliteMaxVars / paramsPerTrade // ~4571 rows
)

// -----------------------------------------------------------------------------

// SQLiteStorage keeps raw trade records (trade format). The historical
// handler merges its output with the unflushed tail.
type SQLiteStorage struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteStorage(cfg *models.MConfig, log *logger.Logger) *SQLiteStorage {
	return &SQLiteStorage{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *SQLiteStorage) Name() string {
	return "sqlite"
}

// -----------------------------------------------------------------------------

func (d *SQLiteStorage) Format() models.StorageFormat {
	return models.FormatTrade
}

// -----------------------------------------------------------------------------

func (d *SQLiteStorage) Connect() error {
	dsn := d.Config.DB.SQLitePath

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	// Single writer; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteStorage) createTables() error {
	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string.
	// History is append-only, never dropped.
	query := `
		CREATE TABLE IF NOT EXISTS trades (
			exchange TEXT NOT NULL,
			pair TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			price REAL NOT NULL,
			size REAL NOT NULL,
			side TEXT NOT NULL,
			liquidation INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create trades: %w", err)
	}

	if _, err := d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades (timestamp);"); err != nil {
		return fmt.Errorf("failed to create timestamp index: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save inserts a flushed batch. Batches above the SQLite variable limit are
// split; each slice runs in its own transaction.
func (d *SQLiteStorage) Save(trades []models.MTrade, isExit bool) error {
	if len(trades) == 0 {
		return nil
	}

	for start := 0; start < len(trades); start += sqliteBatchSize {
		end := start + sqliteBatchSize
		if end > len(trades) {
			end = len(trades)
		}
		if err := d.saveBatch(trades[start:end]); err != nil {
			return err
		}
	}

	if isExit {
		d.Logger.Info("Final flush complete (%d trades)", len(trades))
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteStorage) saveBatch(trades []models.MTrade) error {
	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}

	placeholders := make([]string, 0, len(trades))
	args := make([]interface{}, 0, len(trades)*paramsPerTrade)

	for i := range trades {
		t := &trades[i]
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?)")
		liq := 0
		if t.Liquidation {
			liq = 1
		}
		args = append(args, t.Exchange, t.Pair, t.Timestamp, t.Price, t.Size, t.Side, liq)
	}

	query := "INSERT INTO trades (exchange, pair, timestamp, price, size, side, liquidation) VALUES " +
		strings.Join(placeholders, ", ")

	if _, err := tx.Exec(query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert %d trades: %w", len(trades), err)
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

// Fetch returns raw trades in the inclusive [from, to] range, oldest first.
func (d *SQLiteStorage) Fetch(req models.MFetchRequest) (*models.MFetchResult, error) {
	query := `
		SELECT exchange, pair, timestamp, price, size, side, liquidation
		FROM trades
		WHERE timestamp >= ? AND timestamp <= ?
	`
	args := []interface{}{req.From, req.To}

	if len(req.Markets) > 0 {
		marks := make([]string, len(req.Markets))
		for i := range req.Markets {
			marks[i] = "?"
			args = append(args, req.Markets[i])
		}
		query += " AND exchange || ':' || pair IN (" + strings.Join(marks, ", ") + ")"
	}

	query += " ORDER BY timestamp ASC"

	rows, err := d.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.MTrade
	for rows.Next() {
		var t models.MTrade
		var liq int
		if err := rows.Scan(&t.Exchange, &t.Pair, &t.Timestamp, &t.Price, &t.Size, &t.Side, &liq); err != nil {
			return nil, err
		}
		t.Liquidation = liq != 0
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.MFetchResult{Format: models.FormatTrade, Trades: trades}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteStorage) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
