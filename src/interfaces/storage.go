package interfaces

import "aggr-server/src/models"

// -----------------------------------------------------------------------------
// IStorage defines the contract for persistence backends.
// -----------------------------------------------------------------------------

type IStorage interface {

	// -----------------------------------------------------------------------------

	// Name returns the backend identifier as used in the storage config list.
	Name() string

	// -----------------------------------------------------------------------------

	// Format reports whether the backend keeps raw trades or pre-bucketed bars.
	// The historical handler branches on this.
	Format() models.StorageFormat

	// -----------------------------------------------------------------------------

	// Connect opens the underlying database and prepares the schema.
	Connect() error

	// -----------------------------------------------------------------------------

	// Save persists one flushed batch. isExit marks the final flush during
	// shutdown; backends must not defer work past an exit save.
	Save(trades []models.MTrade, isExit bool) error

	// -----------------------------------------------------------------------------

	// Fetch serves a historical range query. A nil result means the backend
	// holds nothing for the range.
	Fetch(req models.MFetchRequest) (*models.MFetchResult, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
