package coordinator

import (
	"context"
	"strings"

	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/state"
)

// JobView is a job with the read-side flags a caller cannot derive from
// the record alone.
type JobView struct {
	*state.Job

	// Expired reports that an open job's deadline has passed.
	Expired bool

	// NeedsAction names the next transition waiting on a participant, or
	// is empty.
	NeedsAction string
}

func (c *Coordinator) view(job *state.Job) JobView {
	now := c.now()
	view := JobView{Job: job, Expired: job.ExpiredAt(now)}

	switch job.Status {
	case state.StatusOpen:
		if view.Expired {
			view.NeedsAction = "expire"
		}
	case state.StatusSubmitted:
		view.NeedsAction = "verify"
	case state.StatusRejectedPendingDispute:
		if now.Before(job.DisputeDeadline) {
			view.NeedsAction = "dispute"
		} else {
			view.NeedsAction = "finalize-reject"
		}
	case state.StatusDisputed:
		view.NeedsAction = "resolve-dispute"
	}
	return view
}

// View wraps a job with its read-side flags.
func (c *Coordinator) View(job *state.Job) JobView {
	return c.view(job)
}

// JobByID returns a single job.
func (c *Coordinator) JobByID(id uint64) (JobView, error) {
	job, err := c.store.Job(id)
	if err != nil {
		return JobView{}, err
	}
	if job == nil {
		return JobView{}, preconditionErr("job %d not found", id)
	}
	return c.view(job), nil
}

// Page is one page of a job listing.
type Page struct {
	Jobs    []JobView
	Total   int
	Offset  int
	Limit   int
	HasMore bool
}

func paginate(c *Coordinator, jobs []*state.Job, offset, limit int) Page {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	total := len(jobs)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	views := make([]JobView, 0, end-offset)
	for _, job := range jobs[offset:end] {
		views = append(views, c.view(job))
	}

	return Page{
		Jobs:    views,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	}
}

// BrowseQuery narrows and pages a browse over the mirror.
type BrowseQuery struct {
	Filter state.JobFilter
	Offset int
	Limit  int
}

// Browse lists jobs matching the query, newest first.
func (c *Coordinator) Browse(q BrowseQuery) (Page, error) {
	if len(q.Filter.Query) > 200 {
		return Page{}, validationErr("search query exceeds 200 characters")
	}
	if q.Filter.Now.IsZero() {
		q.Filter.Now = c.now()
	}

	jobs, err := c.store.BrowseJobs(q.Filter)
	if err != nil {
		return Page{}, err
	}
	return paginate(c, jobs, q.Offset, q.Limit), nil
}

// Participated lists the jobs an address took part in, newest first.
func (c *Coordinator) Participated(address string, role state.Role, status state.Status, offset, limit int) (Page, error) {
	addr, err := parseAddress(address, "participant")
	if err != nil {
		return Page{}, err
	}
	if role == "" {
		role = state.RoleBoth
	}
	switch role {
	case state.RoleIssuer, state.RoleCompleter, state.RoleBoth:
	default:
		return Page{}, validationErr("unknown role %q", string(role))
	}

	jobs, err := c.store.JobsByParticipant(addr.Hex(), role, status)
	if err != nil {
		return Page{}, err
	}
	return paginate(c, jobs, offset, limit), nil
}

// Stats are marketplace-wide counters from the mirror.
type Stats struct {
	Open      int `json:"open"`
	Claimed   int `json:"claimed"`
	Submitted int `json:"submitted"`
	Rejected  int `json:"rejected"`
	Disputed  int `json:"disputed"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// Stats returns per-status job counts.
func (c *Coordinator) Stats() (Stats, error) {
	var stats Stats
	for _, entry := range []struct {
		status state.Status
		target *int
	}{
		{state.StatusOpen, &stats.Open},
		{state.StatusClaimed, &stats.Claimed},
		{state.StatusSubmitted, &stats.Submitted},
		{state.StatusRejectedPendingDispute, &stats.Rejected},
		{state.StatusDisputed, &stats.Disputed},
		{state.StatusCompleted, &stats.Completed},
		{state.StatusCancelled, &stats.Cancelled},
	} {
		n, err := c.store.CountByStatus(entry.status)
		if err != nil {
			return Stats{}, err
		}
		*entry.target = n
		stats.Total += n
	}
	return stats, nil
}

// Reputation is an agent's standing, combining the on-ledger score with
// mirror-side participation counts.
type Reputation struct {
	Address      string `json:"address"`
	Completed    uint32 `json:"completed"`
	SuccessTotal uint32 `json:"successTotal"`
	Tier         uint8  `json:"tier"`
	TierName     string `json:"tierName"`

	PostedJobs    int `json:"postedJobs"`
	CompletedWork int `json:"completedWork"`
}

// Reputation returns an address's standing. The tier comes from the
// ledger; the participation counts come from the mirror.
func (c *Coordinator) Reputation(ctx context.Context, address string) (Reputation, error) {
	addr, err := parseAddress(address, "agent")
	if err != nil {
		return Reputation{}, err
	}

	score, err := c.ledger.Score(ctx, addr.Hex())
	if err != nil {
		if ledger.IsIndeterminate(err) {
			return Reputation{}, ledgerErr("score", err)
		}
		// An unknown address scores zero rather than erroring.
		score = ledger.Score{}
	}

	rep := Reputation{
		Address:      addr.Hex(),
		Completed:    score.Completed,
		SuccessTotal: score.SuccessTotal,
		Tier:         score.Tier,
		TierName:     score.TierName(),
	}

	issued, err := c.store.JobsByParticipant(addr.Hex(), state.RoleIssuer, "")
	if err != nil {
		return Reputation{}, err
	}
	rep.PostedJobs = len(issued)

	worked, err := c.store.JobsByParticipant(addr.Hex(), state.RoleCompleter, state.StatusCompleted)
	if err != nil {
		return Reputation{}, err
	}
	rep.CompletedWork = len(worked)

	return rep, nil
}

// SignupTerms are the inputs to Signup.
type SignupTerms struct {
	Address string
	Name    string
}

// Signup registers an agent identity. An address registers once;
// signing up again is a conflict.
func (c *Coordinator) Signup(terms SignupTerms) (*state.Agent, error) {
	addr, err := parseAddress(terms.Address, "agent")
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(terms.Name)
	if name == "" {
		name = DefaultAgentName
	}
	if len(name) > DefaultMaxName {
		return nil, validationErr("name exceeds %d characters", DefaultMaxName)
	}

	agent := &state.Agent{
		Address:   addr.Hex(),
		Name:      name,
		CreatedAt: c.now(),
	}

	switch err := c.store.InsertAgent(agent); err {
	case nil:
		c.log.Info("coordinator: agent signed up", "address", shortAddr(agent.Address), "name", name)
		c.count("signup")
		return agent, nil
	case state.ErrExists:
		return nil, preconditionErr("address %s already registered", addr.Hex())
	default:
		return nil, err
	}
}
