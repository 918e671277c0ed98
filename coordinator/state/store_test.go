package state_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *state.Store {
	t.Helper()

	store, err := state.New()
	require.NoError(t, err)
	return store
}

func newJob(id uint64) *state.Job {
	return &state.Job{
		ID:          id,
		Issuer:      "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		Description: "build a widget",
		Bounty:      "1000000000000000000",
		Token:       state.TokenMON,
		Status:      state.StatusOpen,
		CreatedAt:   time.Now(),
	}
}

func TestStore_InsertAndGetJob(t *testing.T) {
	store := newStore(t)

	err := store.InsertJob(newJob(1))
	require.NoError(t, err)

	job, err := store.Job(1)

	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, uint64(1), job.ID)
	assert.Equal(t, state.StatusOpen, job.Status)
}

func TestStore_InsertJobRejectsDuplicate(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.InsertJob(newJob(1)))

	err := store.InsertJob(newJob(1))

	assert.Equal(t, state.ErrExists, err)
}

func TestStore_JobReturnsNilWhenMissing(t *testing.T) {
	store := newStore(t)

	job, err := store.Job(99)

	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStore_JobReturnsCopy(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.InsertJob(newJob(1)))

	job, err := store.Job(1)
	require.NoError(t, err)
	job.Status = state.StatusCancelled

	again, err := store.Job(1)
	require.NoError(t, err)
	assert.Equal(t, state.StatusOpen, again.Status)
}

func TestStore_UpdateJob(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.InsertJob(newJob(1)))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	updated, err := store.UpdateJob(1, state.StatusOpen, now, func(j *state.Job) {
		j.Status = state.StatusClaimed
		j.Completer = "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"
	})

	require.NoError(t, err)
	assert.Equal(t, state.StatusClaimed, updated.Status)

	job, err := store.Job(1)
	require.NoError(t, err)
	assert.Equal(t, state.StatusClaimed, job.Status)
	assert.Equal(t, now, job.UpdatedAt)
}

func TestStore_UpdateJobConflicts(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.InsertJob(newJob(1)))

	_, err := store.UpdateJob(1, state.StatusOpen, time.Now(), func(j *state.Job) {
		j.Status = state.StatusClaimed
	})
	require.NoError(t, err)

	// The second transition expected the status the first one consumed.
	_, err = store.UpdateJob(1, state.StatusOpen, time.Now(), func(j *state.Job) {
		j.Status = state.StatusCancelled
	})

	assert.Equal(t, state.ErrConflict, err)
}

func TestStore_UpdateJobNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.UpdateJob(99, state.StatusOpen, time.Now(), func(j *state.Job) {})

	assert.Equal(t, state.ErrNotFound, err)
}

func TestStore_JobsByStatus(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.InsertJob(newJob(1)))
	require.NoError(t, store.InsertJob(newJob(2)))
	job3 := newJob(3)
	job3.Status = state.StatusCompleted
	require.NoError(t, store.InsertJob(job3))

	open, err := store.JobsByStatus(state.StatusOpen)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	n, err := store.CountByStatus(state.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_JobsByParticipant(t *testing.T) {
	store := newStore(t)

	issued := newJob(1)
	require.NoError(t, store.InsertJob(issued))

	worked := newJob(2)
	worked.Issuer = "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"
	worked.Completer = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	worked.Status = state.StatusClaimed
	require.NoError(t, store.InsertJob(worked))

	other := newJob(3)
	other.Issuer = "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"
	require.NoError(t, store.InsertJob(other))

	addr := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

	tests := []struct {
		name    string
		role    state.Role
		status  state.Status
		wantIDs []uint64
	}{
		{
			name:    "both",
			role:    state.RoleBoth,
			wantIDs: []uint64{1, 2},
		},
		{
			name:    "issuer only",
			role:    state.RoleIssuer,
			wantIDs: []uint64{1},
		},
		{
			name:    "completer only",
			role:    state.RoleCompleter,
			wantIDs: []uint64{2},
		},
		{
			name:    "status filter",
			role:    state.RoleBoth,
			status:  state.StatusClaimed,
			wantIDs: []uint64{2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := store.JobsByParticipant(addr, tt.role, tt.status)

			require.NoError(t, err)
			ids := make([]uint64, 0, len(jobs))
			for _, job := range jobs {
				ids = append(ids, job.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestStore_JobsByParticipantIsCaseInsensitive(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.InsertJob(newJob(1)))

	jobs, err := store.JobsByParticipant("0x8BA1F109551BD432803012645AC136DDD64DBA72", state.RoleIssuer, "")

	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStore_BrowseJobs(t *testing.T) {
	store := newStore(t)

	cheap := newJob(1)
	cheap.Bounty = "100"
	cheap.Description = "paint the fence"
	require.NoError(t, store.InsertJob(cheap))

	rich := newJob(2)
	rich.Bounty = "5000"
	rich.Description = "build a deck"
	require.NoError(t, store.InsertJob(rich))

	done := newJob(3)
	done.Status = state.StatusCompleted
	require.NoError(t, store.InsertJob(done))

	tests := []struct {
		name    string
		filter  state.JobFilter
		wantIDs []uint64
	}{
		{
			name:    "defaults to open",
			filter:  state.JobFilter{},
			wantIDs: []uint64{1, 2},
		},
		{
			name:    "text query",
			filter:  state.JobFilter{Query: "DECK"},
			wantIDs: []uint64{2},
		},
		{
			name:    "min bounty",
			filter:  state.JobFilter{MinBounty: big.NewInt(1000)},
			wantIDs: []uint64{2},
		},
		{
			name:    "max bounty",
			filter:  state.JobFilter{MaxBounty: big.NewInt(1000)},
			wantIDs: []uint64{1},
		},
		{
			name:    "status",
			filter:  state.JobFilter{Status: state.StatusCompleted},
			wantIDs: []uint64{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := store.BrowseJobs(tt.filter)

			require.NoError(t, err)
			ids := make([]uint64, 0, len(jobs))
			for _, job := range jobs {
				ids = append(ids, job.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestStore_BrowseJobsExcludesExpired(t *testing.T) {
	store := newStore(t)

	now := time.Now()

	live := newJob(1)
	live.Deadline = now.Add(time.Hour)
	require.NoError(t, store.InsertJob(live))

	expired := newJob(2)
	expired.Deadline = now.Add(-time.Hour)
	require.NoError(t, store.InsertJob(expired))

	jobs, err := store.BrowseJobs(state.JobFilter{ExcludeExpired: true, Now: now})

	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, uint64(1), jobs[0].ID)
}

func TestStore_BrowseJobsNewestFirst(t *testing.T) {
	store := newStore(t)

	older := newJob(1)
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.InsertJob(older))

	newer := newJob(2)
	newer.CreatedAt = time.Now()
	require.NoError(t, store.InsertJob(newer))

	jobs, err := store.BrowseJobs(state.JobFilter{})

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, uint64(2), jobs[0].ID)
}

func TestStore_Agents(t *testing.T) {
	store := newStore(t)

	err := store.InsertAgent(&state.Agent{
		Address:   "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		Name:      "widget bot",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	agent, err := store.Agent("0x8BA1F109551BD432803012645AC136DDD64DBA72")
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "widget bot", agent.Name)

	err = store.InsertAgent(&state.Agent{Address: "0x8ba1f109551bD432803012645Ac136ddd64DBA72"})
	assert.Equal(t, state.ErrExists, err)
}
