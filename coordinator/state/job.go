package state

import (
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

// Status is the workflow status of a job.
type Status string

// Job statuses.
const (
	StatusOpen                   Status = "open"
	StatusClaimed                Status = "claimed"
	StatusSubmitted              Status = "submitted"
	StatusRejectedPendingDispute Status = "rejected_pending_dispute"
	StatusDisputed               Status = "disputed"
	StatusCompleted              Status = "completed"
	StatusCancelled              Status = "cancelled"
)

// Token is a settlement asset for a bounty.
type Token string

// Settlement assets.
const (
	TokenMON  Token = "MON"
	TokenUSDC Token = "USDC"
)

// Role selects which side of a job an address participated on.
type Role string

// Participant roles.
const (
	RoleIssuer    Role = "issuer"
	RoleCompleter Role = "completer"
	RoleBoth      Role = "both"
)

// Job is the mirror record of a single job. The ledger is the authority
// for whether funds have moved; this record is the authority for workflow
// state and for data with no ledger counterpart.
type Job struct {
	ID              uint64
	Issuer          string
	Completer       string
	Description     string
	DescriptionHash string
	Bounty          string
	Token           Token
	Deadline        time.Time
	ArtifactRef     string
	Status          Status

	RejectedAt      time.Time
	DisputeDeadline time.Time
	DisputedAt      time.Time
	SubmittedAt     time.Time

	TxHash    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Copy returns a copy of the job. Records handed out by the store must be
// copied before mutation, memdb shares the stored object.
func (j *Job) Copy() *Job {
	nj := *j
	return &nj
}

// BountyAmount returns the bounty as an amount, or nil if it is malformed.
func (j *Job) BountyAmount() *big.Int {
	n, ok := new(big.Int).SetString(j.Bounty, 10)
	if !ok {
		return nil
	}
	return n
}

// HasCompleter reports whether a completer is bound to the job.
func (j *Job) HasCompleter() bool {
	return j.Completer != ""
}

// ExpiredAt reports whether an open job's deadline has passed at t.
func (j *Job) ExpiredAt(t time.Time) bool {
	return j.Status == StatusOpen && !j.Deadline.IsZero() && j.Deadline.Before(t)
}

func jobsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: "jobs",
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.UintFieldIndex{
					Field: "ID",
				},
			},
			"status": {
				Name:         "status",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Status",
					Lowercase: true,
				},
			},
			"issuer": {
				Name:         "issuer",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Issuer",
					Lowercase: true,
				},
			},
			"completer": {
				Name:         "completer",
				AllowMissing: true,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Completer",
					Lowercase: true,
				},
			},
		},
	}
}

// InsertJob inserts a new job. ErrExists is returned when the id is taken.
func (s *Store) InsertJob(job *Job) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	existing, err := tx.First("jobs", "id", job.ID)
	if err != nil {
		return errors.Wrap(err, "state: job lookup failed")
	}
	if existing != nil {
		return ErrExists
	}

	if err := tx.Insert("jobs", job.Copy()); err != nil {
		return errors.Wrap(err, "state: failed inserting job")
	}

	tx.Commit()
	return nil
}

// Job returns the job with the given id, or nil.
func (s *Store) Job(id uint64) (*Job, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First("jobs", "id", id)
	if err != nil {
		return nil, errors.Wrap(err, "state: job lookup failed")
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*Job).Copy(), nil
}

// UpdateJob applies fn to the job with the given id if, and only if, it is
// currently in the expected status. This is the compare-and-swap guard that
// serializes racing transitions on the same job: exactly one of two
// concurrent updates from the same status wins, the other gets ErrConflict.
// The updated record is stamped with now, the caller's clock.
func (s *Store) UpdateJob(id uint64, expect Status, now time.Time, fn func(*Job)) (*Job, error) {
	tx := s.db.Txn(true)
	defer tx.Abort()

	raw, err := tx.First("jobs", "id", id)
	if err != nil {
		return nil, errors.Wrap(err, "state: job lookup failed")
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	job := raw.(*Job)
	if job.Status != expect {
		return nil, ErrConflict
	}

	updated := job.Copy()
	fn(updated)
	updated.UpdatedAt = now

	if err := tx.Insert("jobs", updated); err != nil {
		return nil, errors.Wrap(err, "state: failed updating job")
	}

	tx.Commit()
	return updated.Copy(), nil
}

// JobsByStatus returns all jobs in the given status.
func (s *Store) JobsByStatus(status Status) ([]*Job, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	iter, err := tx.Get("jobs", "status", string(status))
	if err != nil {
		return nil, errors.Wrap(err, "state: job lookup failed")
	}

	var jobs []*Job
	for next := iter.Next(); next != nil; next = iter.Next() {
		jobs = append(jobs, next.(*Job).Copy())
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in the given status.
func (s *Store) CountByStatus(status Status) (int, error) {
	jobs, err := s.JobsByStatus(status)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// JobsByParticipant returns jobs where the address is the issuer, the
// completer, or either, newest first. The address match is case-insensitive.
// An empty status matches all statuses.
func (s *Store) JobsByParticipant(address string, role Role, status Status) ([]*Job, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	addr := strings.ToLower(address)
	seen := map[uint64]bool{}
	var jobs []*Job

	collect := func(index string) error {
		iter, err := tx.Get("jobs", index, addr)
		if err != nil {
			return errors.Wrap(err, "state: job lookup failed")
		}
		for next := iter.Next(); next != nil; next = iter.Next() {
			job := next.(*Job)
			if seen[job.ID] {
				continue
			}
			if status != "" && job.Status != status {
				continue
			}
			seen[job.ID] = true
			jobs = append(jobs, job.Copy())
		}
		return nil
	}

	if role == RoleIssuer || role == RoleBoth {
		if err := collect("issuer"); err != nil {
			return nil, err
		}
	}
	if role == RoleCompleter || role == RoleBoth {
		if err := collect("completer"); err != nil {
			return nil, err
		}
	}

	sortNewestFirst(jobs)
	return jobs, nil
}

// JobFilter narrows a browse over the mirror.
type JobFilter struct {
	Status         Status
	Query          string
	Issuer         string
	Token          Token
	MinBounty      *big.Int
	MaxBounty      *big.Int
	DeadlineBefore time.Time
	DeadlineAfter  time.Time
	ExcludeExpired bool
	Now            time.Time
}

// BrowseJobs returns the jobs matching the filter, newest first.
func (s *Store) BrowseJobs(f JobFilter) ([]*Job, error) {
	status := f.Status
	if status == "" {
		status = StatusOpen
	}

	jobs, err := s.JobsByStatus(status)
	if err != nil {
		return nil, err
	}

	matched := jobs[:0]
	for _, job := range jobs {
		if !matchesFilter(job, f) {
			continue
		}
		matched = append(matched, job)
	}

	sortNewestFirst(matched)
	return matched, nil
}

func matchesFilter(job *Job, f JobFilter) bool {
	if f.Query != "" && !strings.Contains(strings.ToLower(job.Description), strings.ToLower(f.Query)) {
		return false
	}
	if f.Issuer != "" && !strings.EqualFold(job.Issuer, f.Issuer) {
		return false
	}
	if f.Token != "" && job.Token != f.Token {
		return false
	}
	if f.MinBounty != nil || f.MaxBounty != nil {
		amount := job.BountyAmount()
		if amount == nil {
			return false
		}
		if f.MinBounty != nil && amount.Cmp(f.MinBounty) < 0 {
			return false
		}
		if f.MaxBounty != nil && amount.Cmp(f.MaxBounty) > 0 {
			return false
		}
	}
	if !f.DeadlineBefore.IsZero() && job.Deadline.After(f.DeadlineBefore) {
		return false
	}
	if !f.DeadlineAfter.IsZero() && job.Deadline.Before(f.DeadlineAfter) {
		return false
	}
	if f.ExcludeExpired && job.ExpiredAt(f.Now) {
		return false
	}
	return true
}

func sortNewestFirst(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
