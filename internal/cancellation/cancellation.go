package cancellation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/ids"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
)

// Status of a cancellation request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// MinRankDecide is the lowest rank allowed to settle a request.
const MinRankDecide = roles.RankAdmin

// Request asks to cancel a booked transportation service.
type Request struct {
	ID              string    `json:"id"`
	ServiceID       string    `json:"serviceId"`
	RequestedBy     string    `json:"requestedBy"`
	RequestedByRole string    `json:"requestedByRole"`
	Reason          string    `json:"reason"`
	Status          Status    `json:"status"`
	DecidedBy       string    `json:"decidedBy,omitempty"`
	DecisionNote    string    `json:"decisionNote,omitempty"`
	DecidedAt       time.Time `json:"decidedAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Service manages the request workflow. It is a thin consumer of the access
// engine: decisions require admin rank plus management of the requester, and
// every decision lands in the audit trail.
type Service struct {
	authz    *authz.Authorizer
	recorder *audit.Recorder

	mu   sync.Mutex
	reqs map[string]*Request
}

// New wires the workflow.
func New(a *authz.Authorizer, recorder *audit.Recorder) (*Service, error) {
	if a == nil || recorder == nil {
		return nil, errors.New("cancellation: authorizer and recorder are required")
	}
	return &Service{authz: a, recorder: recorder, reqs: make(map[string]*Request)}, nil
}

// Submit files a new pending request on behalf of the caller.
func (s *Service) Submit(ctx context.Context, caller authz.Caller, serviceID, reason string) (Request, error) {
	if caller.IsAnonymous() {
		return Request{}, authz.ErrUnauthenticated
	}
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return Request{}, fmt.Errorf("cancellation: service id is required: %w", authz.ErrValidation)
	}
	resolved, err := s.authz.ResolveRole(ctx, caller)
	if err != nil {
		return Request{}, err
	}
	req := &Request{
		ID:              ids.New(),
		ServiceID:       serviceID,
		RequestedBy:     caller.ID,
		RequestedByRole: resolved,
		Reason:          strings.TrimSpace(reason),
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	s.mu.Lock()
	s.reqs[req.ID] = req
	s.mu.Unlock()

	s.record(ctx, caller, audit.ActionCreate, req.ID, "submitted service="+serviceID)
	return *req, nil
}

// Approve settles a pending request in favour of cancellation.
func (s *Service) Approve(ctx context.Context, caller authz.Caller, id string) (Request, error) {
	return s.decide(ctx, caller, id, StatusApproved, "")
}

// Reject settles a pending request against cancellation.
func (s *Service) Reject(ctx context.Context, caller authz.Caller, id, note string) (Request, error) {
	return s.decide(ctx, caller, id, StatusRejected, strings.TrimSpace(note))
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, caller authz.Caller, id string) (Request, error) {
	if caller.IsAnonymous() {
		return Request{}, authz.ErrUnauthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return Request{}, fmt.Errorf("cancellation: request %s: %w", id, authz.ErrNotFound)
	}
	return *req, nil
}

func (s *Service) decide(ctx context.Context, caller authz.Caller, id string, status Status, note string) (Request, error) {
	if caller.IsAnonymous() {
		return Request{}, authz.ErrUnauthenticated
	}
	if err := s.authz.MustHaveMinimumRank(ctx, caller, MinRankDecide); err != nil {
		return Request{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return Request{}, fmt.Errorf("cancellation: request %s: %w", id, authz.ErrNotFound)
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("cancellation: request %s is already %s: %w", id, req.Status, authz.ErrConflict)
	}

	// The decider must outrank the requester; peers cannot settle each
	// other's requests.
	ok, err := s.authz.CanManage(ctx, caller, authz.Caller{ID: req.RequestedBy, AssertedRole: req.RequestedByRole})
	if err != nil {
		return Request{}, err
	}
	if !ok {
		resolved, _ := s.authz.ResolveRole(ctx, caller)
		return Request{}, authz.Denied(resolved, authz.ConstraintManage)
	}

	req.Status = status
	req.DecidedBy = caller.ID
	req.DecisionNote = note
	req.DecidedAt = time.Now().UTC()

	s.record(ctx, caller, audit.ActionUpdate, req.ID, string(status))
	return *req, nil
}

func (s *Service) record(ctx context.Context, caller authz.Caller, action audit.Action, id, detail string) {
	resolved, _ := s.authz.ResolveRole(ctx, caller)
	_ = s.recorder.Record(ctx, audit.Event{
		Action:    action,
		ActorID:   caller.ID,
		ActorRole: resolved,
		Entity:    "cancellations",
		EntityID:  id,
		Detail:    detail,
	})
}
