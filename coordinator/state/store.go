package state

import (
	"errors"

	"github.com/hashicorp/go-memdb"
)

// Store errors.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("state: not found")

	// ErrExists is returned when inserting a record whose key is taken.
	ErrExists = errors.New("state: already exists")

	// ErrConflict is returned when a conditional update finds the record
	// in a different status than the caller expected.
	ErrConflict = errors.New("state: status conflict")
)

// Store is the off-chain mirror of job and agent state.
type Store struct {
	schema *memdb.DBSchema
	db     *memdb.MemDB
}

// New returns a mirror store.
func New() (*Store, error) {
	dbSchema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"jobs":   jobsTableSchema(),
			"agents": agentsTableSchema(),
		},
	}

	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, err
	}

	return &Store{
		schema: dbSchema,
		db:     db,
	}, nil
}
