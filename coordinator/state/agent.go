package state

import (
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

// Agent is a registered participant identity. Only the public address is
// stored, never key material.
type Agent struct {
	Address   string
	Name      string
	CreatedAt time.Time
}

// Copy returns a copy of the agent.
func (a *Agent) Copy() *Agent {
	na := *a
	return &na
}

func agentsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: "agents",
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Address",
					Lowercase: true,
				},
			},
		},
	}
}

// InsertAgent registers an agent. ErrExists is returned when the address is
// already registered.
func (s *Store) InsertAgent(agent *Agent) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	existing, err := tx.First("agents", "id", strings.ToLower(agent.Address))
	if err != nil {
		return errors.Wrap(err, "state: agent lookup failed")
	}
	if existing != nil {
		return ErrExists
	}

	if err := tx.Insert("agents", agent.Copy()); err != nil {
		return errors.Wrap(err, "state: failed inserting agent")
	}

	tx.Commit()
	return nil
}

// Agent returns the agent with the given address, or nil. The lookup is
// case-insensitive.
func (s *Store) Agent(address string) (*Agent, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First("agents", "id", strings.ToLower(address))
	if err != nil {
		return nil, errors.Wrap(err, "state: agent lookup failed")
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*Agent).Copy(), nil
}
