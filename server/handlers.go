package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/clawgig/clawgig/coordinator"
	"github.com/clawgig/clawgig/coordinator/state"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signupRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !s.decode(w, r, &req) {
		return
	}

	agent, err := s.coord.Signup(coordinator.SignupTerms{
		Address: req.Address,
		Name:    req.Name,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":   agent.Address,
		"name":      agent.Name,
		"createdAt": agent.CreatedAt,
	})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	rep, err := s.coord.Reputation(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

type postRequest struct {
	Issuer      string    `json:"issuer"`
	Description string    `json:"description"`
	Bounty      string    `json:"bounty"`
	Token       string    `json:"token"`
	Deadline    time.Time `json:"deadline"`
	Signature   string    `json:"signature"`
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !s.decode(w, r, &req) {
		return
	}

	bounty, ok := parseAmount(req.Bounty)
	if !ok {
		s.writeError(w, &coordinator.Error{Kind: coordinator.KindValidation, Message: "bounty must be a decimal wei amount"})
		return
	}

	job, err := s.coord.Post(r.Context(), coordinator.PostTerms{
		Issuer:      req.Issuer,
		Description: req.Description,
		Bounty:      bounty,
		Token:       state.Token(req.Token),
		Deadline:    req.Deadline,
		Signature:   req.Signature,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusCreated, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	view, err := s.coord.JobByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobPayload(view))
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := state.JobFilter{
		Status: state.Status(q.Get("status")),
		Query:  q.Get("q"),
		Issuer: q.Get("issuer"),
		Token:  state.Token(q.Get("token")),
	}
	if v := q.Get("minBounty"); v != "" {
		if amount, ok := parseAmount(v); ok {
			filter.MinBounty = amount
		}
	}
	if v := q.Get("maxBounty"); v != "" {
		if amount, ok := parseAmount(v); ok {
			filter.MaxBounty = amount
		}
	}
	if q.Get("excludeExpired") == "true" {
		filter.ExcludeExpired = true
	}

	page, err := s.coord.Browse(coordinator.BrowseQuery{
		Filter: filter,
		Offset: intParam(q.Get("offset")),
		Limit:  intParam(q.Get("limit")),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writePage(w, page)
}

func (s *Server) handleParticipated(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := s.coord.Participated(
		q.Get("address"),
		state.Role(q.Get("role")),
		state.Status(q.Get("status")),
		intParam(q.Get("offset")),
		intParam(q.Get("limit")),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writePage(w, page)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.coord.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type escrowRequest struct {
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req escrowRequest
	if !s.decode(w, r, &req) {
		return
	}

	var amount *big.Int
	if req.Amount != "" {
		amount, ok = parseAmount(req.Amount)
		if !ok {
			s.writeError(w, &coordinator.Error{Kind: coordinator.KindValidation, Message: "amount must be a decimal wei amount"})
			return
		}
	}

	job, err := s.coord.Escrow(r.Context(), coordinator.EscrowTerms{
		JobID:     id,
		Amount:    amount,
		Signature: req.Signature,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

type claimRequest struct {
	Completer string `json:"completer"`
	Signature string `json:"signature"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.coord.Claim(r.Context(), coordinator.ClaimTerms{
		JobID:     id,
		Completer: req.Completer,
		Signature: req.Signature,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

type submitRequest struct {
	Completer   string `json:"completer"`
	ArtifactRef string `json:"artifactRef"`
	Signature   string `json:"signature"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.coord.Submit(r.Context(), coordinator.SubmitTerms{
		JobID:       id,
		Completer:   req.Completer,
		ArtifactRef: req.ArtifactRef,
		Signature:   req.Signature,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

type splitShareRequest struct {
	Address string `json:"address"`
	Percent int    `json:"percent"`
	Amount  string `json:"amount"`
}

type verifyRequest struct {
	Approved  bool                `json:"approved"`
	Reopen    bool                `json:"reopen"`
	Split     []splitShareRequest `json:"split"`
	Signature string              `json:"signature"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	split := make([]coordinator.SplitShare, 0, len(req.Split))
	for _, share := range req.Split {
		resolved := coordinator.SplitShare{
			Address: share.Address,
			Percent: share.Percent,
		}
		if share.Amount != "" {
			amount, ok := parseAmount(share.Amount)
			if !ok {
				s.writeError(w, &coordinator.Error{Kind: coordinator.KindValidation, Message: "split amount must be a decimal wei amount"})
				return
			}
			resolved.Amount = amount
		}
		split = append(split, resolved)
	}

	job, err := s.coord.Verify(r.Context(), coordinator.VerifyDecision{
		JobID:     id,
		Approved:  req.Approved,
		Reopen:    req.Reopen,
		Split:     split,
		Signature: req.Signature,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

type signatureRequest struct {
	Signature string `json:"signature"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req signatureRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.coord.Cancel(r.Context(), coordinator.CancelTerms{JobID: id, Signature: req.Signature})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req signatureRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.coord.Expire(r.Context(), coordinator.ExpireTerms{JobID: id, Signature: req.Signature})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

type disputeRequest struct {
	Completer string `json:"completer"`
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.coord.Dispute(r.Context(), coordinator.DisputeTerms{JobID: id, Completer: req.Completer})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

type resolveRequest struct {
	ReleaseToCompleter bool `json:"releaseToCompleter"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.coord.ResolveDispute(r.Context(), coordinator.Resolution{
		JobID:              id,
		ArbiterKey:         r.Header.Get("X-Arbiter-Api-Key"),
		ReleaseToCompleter: req.ReleaseToCompleter,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

func (s *Server) handleFinalizeReject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	job, err := s.coord.FinalizeReject(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

func (s *Server) handleClaimTimeoutRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	job, err := s.coord.ClaimTimeoutRelease(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJob(w, http.StatusOK, job)
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, &coordinator.Error{Kind: coordinator.KindValidation, Message: "job id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, &coordinator.Error{Kind: coordinator.KindValidation, Message: "malformed request body"})
		return false
	}
	return true
}

func parseAmount(v string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func intParam(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

type jobResponse struct {
	ID              uint64     `json:"id"`
	Issuer          string     `json:"issuer"`
	Completer       string     `json:"completer,omitempty"`
	Description     string     `json:"description"`
	DescriptionHash string     `json:"descriptionHash"`
	Bounty          string     `json:"bounty"`
	Token           string     `json:"token"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	ArtifactRef     string     `json:"artifactRef,omitempty"`
	Status          string     `json:"status"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	DisputeDeadline *time.Time `json:"disputeDeadline,omitempty"`
	DisputedAt      *time.Time `json:"disputedAt,omitempty"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	TxHash          string     `json:"txHash,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Expired         bool       `json:"expired,omitempty"`
	NeedsAction     string     `json:"needsAction,omitempty"`
}

func jobPayload(view coordinator.JobView) jobResponse {
	job := view.Job
	return jobResponse{
		ID:              job.ID,
		Issuer:          job.Issuer,
		Completer:       job.Completer,
		Description:     job.Description,
		DescriptionHash: job.DescriptionHash,
		Bounty:          job.Bounty,
		Token:           string(job.Token),
		Deadline:        optionalTime(job.Deadline),
		ArtifactRef:     job.ArtifactRef,
		Status:          string(job.Status),
		RejectedAt:      optionalTime(job.RejectedAt),
		DisputeDeadline: optionalTime(job.DisputeDeadline),
		DisputedAt:      optionalTime(job.DisputedAt),
		SubmittedAt:     optionalTime(job.SubmittedAt),
		TxHash:          job.TxHash,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		Expired:         view.Expired,
		NeedsAction:     view.NeedsAction,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type pageResponse struct {
	Jobs    []jobResponse `json:"jobs"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	HasMore bool          `json:"hasMore"`
}

func (s *Server) writePage(w http.ResponseWriter, page coordinator.Page) {
	resp := pageResponse{
		Jobs:    make([]jobResponse, 0, len(page.Jobs)),
		Total:   page.Total,
		Offset:  page.Offset,
		Limit:   page.Limit,
		HasMore: page.HasMore,
	}
	for _, view := range page.Jobs {
		resp.Jobs = append(resp.Jobs, jobPayload(view))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJob(w http.ResponseWriter, status int, job *state.Job) {
	s.writeJSON(w, status, jobPayload(s.coord.View(job)))
}

type errorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Remedy   string `json:"remedy,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: string(coordinator.KindInternal)}
	status := http.StatusInternalServerError

	if ce, ok := coordinator.AsError(err); ok {
		resp.Kind = string(ce.Kind)
		resp.Remedy = ce.Remedy
		resp.Expected = ce.Expected
		resp.Actual = ce.Actual

		switch ce.Kind {
		case coordinator.KindValidation, coordinator.KindLedgerConfig, coordinator.KindLedgerRejected:
			status = http.StatusBadRequest
		case coordinator.KindAuthorization:
			status = http.StatusForbidden
		case coordinator.KindPrecondition:
			status = http.StatusConflict
		case coordinator.KindLedgerIndeterminate:
			status = http.StatusBadGateway
		}
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("server: request failed", "kind", resp.Kind, "error", err)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("server: response encode failed", "error", err)
	}
}
