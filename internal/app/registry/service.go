// Package registry implements the service-token lifecycle engine: token
// creation, companion assignment, state transitions and their side effects
// (URI re-binding, evidence minting, ownership transfer).
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
	"github.com/cuidalink/service-registry/internal/app/events"
	"github.com/cuidalink/service-registry/internal/app/ledger"
	"github.com/cuidalink/service-registry/internal/app/metrics"
	"github.com/cuidalink/service-registry/internal/app/storage"
	"github.com/cuidalink/service-registry/pkg/logger"
)

// Service owns all tokens, their state-URI bindings and the transition
// rules. All state-mutating operations are serialized by a single registry
// mutex so coupled side effects (state flip + evidence mint, assignment +
// ownership transfer) are never observable half-done.
type Service struct {
	variant token.Variant
	store   storage.TokenStore
	uris    storage.URITableStore
	ledger  ledger.Ledger
	events  events.Log
	log     *logger.Logger

	mu sync.Mutex
}

// New constructs a registry service for the given variant.
func New(variant token.Variant, store storage.TokenStore, uris storage.URITableStore, ldg ledger.Ledger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	if variant == "" {
		variant = token.VariantFull
	}
	return &Service{
		variant: variant,
		store:   store,
		uris:    uris,
		ledger:  ldg,
		log:     log,
	}
}

// WithEvents attaches an event log. Call before serving traffic.
func (s *Service) WithEvents(log events.Log) {
	s.events = log
}

// Variant returns the lifecycle variant this registry enforces.
func (s *Service) Variant() token.Variant {
	return s.variant
}

// CreateService mints a new service token to recipient in the Created state.
func (s *Service) CreateService(ctx context.Context, recipient string) (token.Token, error) {
	if strings.TrimSpace(recipient) == "" {
		return token.Token{}, s.reject(fmt.Errorf("recipient is required: %w", ErrPreconditionFailed))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.store.NextTokenID(ctx)
	if err != nil {
		return token.Token{}, fmt.Errorf("allocate token id: %w", err)
	}

	tok := token.Token{
		ID:    id,
		State: token.StateCreated,
	}
	if uri, ok := s.stateURI(ctx, token.StateCreated); ok {
		tok.URI = uri
	}

	if err := s.ledger.Mint(ctx, recipient, id); err != nil {
		return token.Token{}, s.reject(fmt.Errorf("mint token %d to %s: %v: %w", id, recipient, err, ErrTransferFailed))
	}

	created, err := s.store.CreateToken(ctx, tok)
	if err != nil {
		// The ledger already holds the mint; surface the divergence loudly.
		s.log.WithError(err).WithField("token_id", id).Error("token minted on ledger but not persisted")
		return token.Token{}, fmt.Errorf("persist token %d: %w", id, err)
	}

	s.emit(events.Event{
		Type:     events.TypeServiceCreated,
		TokenID:  created.ID,
		Owner:    recipient,
		NewState: created.State,
	})
	metrics.RecordTokenCreated()
	s.log.WithField("token_id", created.ID).
		WithField("recipient", recipient).
		Info("service token created")
	return created, nil
}

// AssignCompanion records the counterparty for a service.
//
// The two variants implement deliberately different policies. In the full
// variant the call only records intent: state and ownership are untouched,
// and the later ChangeState(Matched) performs the transition. In the
// simplified variant the call is the sole path into Matched: it transitions
// Created→Matched and transfers ledger ownership to the companion in one
// atomic operation.
func (s *Service) AssignCompanion(ctx context.Context, id uint64, companion string) (token.Token, error) {
	if strings.TrimSpace(companion) == "" {
		return token.Token{}, s.reject(fmt.Errorf("companion is required: %w", ErrPreconditionFailed))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.getLocked(ctx, id)
	if err != nil {
		return token.Token{}, s.reject(err)
	}
	if tok.Evidence {
		return token.Token{}, s.reject(fmt.Errorf("token %d is an evidence record: %w", id, ErrInvalidTransition))
	}

	if s.variant != token.VariantSimplified {
		tok.Companion = companion
		updated, err := s.store.UpdateToken(ctx, tok)
		if err != nil {
			return token.Token{}, fmt.Errorf("persist companion for token %d: %w", id, err)
		}
		s.emit(events.Event{
			Type:      events.TypeCompanionAssigned,
			TokenID:   id,
			Companion: companion,
		})
		s.log.WithField("token_id", id).
			WithField("companion", companion).
			Info("companion assigned")
		return updated, nil
	}

	// Simplified variant: assignment forces Created→Matched and hands the
	// token to the companion.
	if tok.State != token.StateCreated {
		return token.Token{}, s.reject(fmt.Errorf("token %d is %s, companion assignment requires created: %w",
			id, s.variant.Name(tok.State), ErrInvalidTransition))
	}

	owner, err := s.ledger.OwnerOf(ctx, id)
	if err != nil {
		return token.Token{}, s.reject(fmt.Errorf("resolve owner of token %d: %v: %w", id, err, ErrTransferFailed))
	}
	if err := s.ledger.Transfer(ctx, owner, companion, id); err != nil {
		return token.Token{}, s.reject(fmt.Errorf("transfer token %d to %s: %v: %w", id, companion, err, ErrTransferFailed))
	}

	previous := tok.State
	tok.State = token.StateMatched
	tok.Companion = companion
	if uri, ok := s.stateURI(ctx, token.StateMatched); ok {
		tok.URI = uri
	}

	updated, err := s.store.UpdateToken(ctx, tok)
	if err != nil {
		// Undo the transfer so ledger and store stay aligned.
		if rbErr := s.ledger.Transfer(ctx, companion, owner, id); rbErr != nil {
			s.log.WithError(rbErr).WithField("token_id", id).Error("rollback transfer failed; ledger and store diverged")
		}
		return token.Token{}, fmt.Errorf("persist token %d: %w", id, err)
	}

	s.emit(events.Event{
		Type:      events.TypeCompanionAssigned,
		TokenID:   id,
		Companion: companion,
	})
	s.emit(events.Event{
		Type:          events.TypeStateChanged,
		TokenID:       id,
		PreviousState: previous,
		NewState:      updated.State,
	})
	metrics.RecordStateTransition(s.variant.Name(previous), s.variant.Name(updated.State))
	s.log.WithField("token_id", id).
		WithField("companion", companion).
		Info("companion assigned and token transferred")
	return updated, nil
}

// ChangeState advances a token to newState, applying the per-state URI and
// any coupled side effects. Transitions follow the variant's edge list: no
// skips, no reverse.
func (s *Service) ChangeState(ctx context.Context, id uint64, newState token.State, rating int) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeStateLocked(ctx, id, newState, rating)
}

// MarkPaid is sugar for ChangeState into Paid: it requires the token to
// already be Rated and performs the same evidence-mint side effect.
func (s *Service) MarkPaid(ctx context.Context, id uint64) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeStateLocked(ctx, id, token.StatePaid, 0)
}

// FinalizeService is the simplified variant's shortcut for
// ChangeState(id, Finished).
func (s *Service) FinalizeService(ctx context.Context, id uint64) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeStateLocked(ctx, id, token.StateFinished, 0)
}

func (s *Service) changeStateLocked(ctx context.Context, id uint64, newState token.State, rating int) (token.Token, error) {
	tok, err := s.getLocked(ctx, id)
	if err != nil {
		return token.Token{}, s.reject(err)
	}
	if tok.Evidence {
		return token.Token{}, s.reject(fmt.Errorf("token %d is an evidence record: %w", id, ErrInvalidTransition))
	}
	if !s.variant.Defined(newState) {
		return token.Token{}, s.reject(fmt.Errorf("state ordinal %d out of range: %w", newState, ErrInvalidTransition))
	}

	edge, found := findEdge(s.variant.AllowedNext(tok.State), newState)
	if !found {
		if newState == token.StatePaid && s.variant != token.VariantSimplified {
			// Paid is only reachable from Rated; anything else is a failed
			// precondition rather than an unknown edge.
			return token.Token{}, s.reject(fmt.Errorf("token %d is %s, payment requires rated: %w",
				id, s.variant.Name(tok.State), ErrPreconditionFailed))
		}
		return token.Token{}, s.reject(fmt.Errorf("no transition %s→%s for token %d: %w",
			s.variant.Name(tok.State), s.variant.Name(newState), id, ErrInvalidTransition))
	}

	for _, pre := range edge.Preconditions {
		switch pre {
		case token.RequireRating:
			if rating < 1 || rating > 5 {
				return token.Token{}, s.reject(fmt.Errorf("rating %d for token %d: %w", rating, id, ErrInvalidRating))
			}
		case token.RequireCompanion:
			if tok.Companion == "" {
				return token.Token{}, s.reject(fmt.Errorf("token %d has no companion assigned: %w", id, ErrPreconditionFailed))
			}
		}
	}

	previous := tok.State
	previousRating := tok.Rating

	updated := tok
	updated.State = newState
	updated.Rating = 0
	if newState == token.StateRated {
		updated.Rating = rating
	}
	if uri, ok := s.stateURI(ctx, newState); ok {
		updated.URI = uri
	}

	var evidence *token.Token
	if newState == token.StatePaid {
		evidenceID, err := s.store.NextTokenID(ctx)
		if err != nil {
			return token.Token{}, fmt.Errorf("allocate evidence id: %w", err)
		}

		ev := token.Token{
			ID:       evidenceID,
			State:    token.StatePaid,
			Rating:   previousRating,
			Evidence: true,
		}
		if uri, ok := s.stateURI(ctx, token.StatePaid); ok {
			ev.URI = uri
		}

		if err := s.ledger.Mint(ctx, tok.Companion, evidenceID); err != nil {
			return token.Token{}, s.reject(fmt.Errorf("mint evidence token %d to %s: %v: %w",
				evidenceID, tok.Companion, err, ErrTransferFailed))
		}

		updated.EvidenceOf = evidenceID
		evidence = &ev
	}

	if err := s.store.ApplyTransition(ctx, updated, evidence); err != nil {
		if evidence != nil {
			s.log.WithError(err).WithField("token_id", id).
				WithField("evidence_id", evidence.ID).
				Error("evidence minted on ledger but transition not persisted")
		}
		return token.Token{}, fmt.Errorf("persist transition for token %d: %w", id, err)
	}

	s.emit(events.Event{
		Type:          events.TypeStateChanged,
		TokenID:       id,
		PreviousState: previous,
		NewState:      newState,
		Rating:        updated.Rating,
	})
	metrics.RecordStateTransition(s.variant.Name(previous), s.variant.Name(newState))
	if evidence != nil {
		s.emit(events.Event{
			Type:       events.TypeEvidenceMinted,
			TokenID:    id,
			Companion:  tok.Companion,
			EvidenceID: evidence.ID,
			Rating:     evidence.Rating,
		})
		metrics.RecordEvidenceMinted()
	}

	entry := s.log.WithField("token_id", id).
		WithField("from", s.variant.Name(previous)).
		WithField("to", s.variant.Name(newState))
	if evidence != nil {
		entry = entry.WithField("evidence_id", evidence.ID)
	}
	entry.Info("service state changed")

	return updated, nil
}

// ConfigureStateURI sets the metadata URI applied to tokens entering state.
// Reconfiguring a state does not rewrite tokens already in it; they pick up
// the new URI on their own next transition.
func (s *Service) ConfigureStateURI(ctx context.Context, st token.State, uri string) error {
	if !s.variant.Defined(st) {
		return s.reject(fmt.Errorf("state ordinal %d out of range: %w", st, ErrInvalidTransition))
	}
	if strings.TrimSpace(uri) == "" {
		return s.reject(fmt.Errorf("uri is required: %w", ErrPreconditionFailed))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.uris.SetStateURI(ctx, st, uri); err != nil {
		return fmt.Errorf("persist state uri: %w", err)
	}

	s.emit(events.Event{
		Type:     events.TypeStateURIConfigured,
		NewState: st,
		Metadata: map[string]string{"uri": uri},
	})
	s.log.WithField("state", s.variant.Name(st)).
		WithField("uri", uri).
		Info("state uri configured")
	return nil
}

// Read accessors --------------------------------------------------------------

// GetService returns the full token record.
func (s *Service) GetService(ctx context.Context, id uint64) (token.Token, error) {
	tok, err := s.store.GetToken(ctx, id)
	if err != nil {
		return token.Token{}, fmt.Errorf("token %d: %w", id, ErrNotFound)
	}
	return tok, nil
}

// State returns the token's current lifecycle state.
func (s *Service) State(ctx context.Context, id uint64) (token.State, error) {
	tok, err := s.GetService(ctx, id)
	if err != nil {
		return 0, err
	}
	return tok.State, nil
}

// Rating returns the token's rating; zero outside the Rated state.
func (s *Service) Rating(ctx context.Context, id uint64) (int, error) {
	tok, err := s.GetService(ctx, id)
	if err != nil {
		return 0, err
	}
	return tok.Rating, nil
}

// Companion returns the assigned counterparty, empty if unassigned.
func (s *Service) Companion(ctx context.Context, id uint64) (string, error) {
	tok, err := s.GetService(ctx, id)
	if err != nil {
		return "", err
	}
	return tok.Companion, nil
}

// EvidenceOf returns the evidence token id minted for this token, zero if
// none exists.
func (s *Service) EvidenceOf(ctx context.Context, id uint64) (uint64, error) {
	tok, err := s.GetService(ctx, id)
	if err != nil {
		return 0, err
	}
	return tok.EvidenceOf, nil
}

// URI returns the token's current metadata URI.
func (s *Service) URI(ctx context.Context, id uint64) (string, error) {
	tok, err := s.GetService(ctx, id)
	if err != nil {
		return "", err
	}
	return tok.URI, nil
}

// NextID returns the id the next created token will receive.
func (s *Service) NextID(ctx context.Context) (uint64, error) {
	return s.store.NextTokenID(ctx)
}

// OwnerOf resolves the token's current owner through the ownership ledger.
func (s *Service) OwnerOf(ctx context.Context, id uint64) (string, error) {
	if _, err := s.GetService(ctx, id); err != nil {
		return "", err
	}
	owner, err := s.ledger.OwnerOf(ctx, id)
	if err != nil {
		return "", fmt.Errorf("resolve owner of token %d: %v: %w", id, err, ErrTransferFailed)
	}
	return owner, nil
}

// StateURIs returns the configured state→URI table.
func (s *Service) StateURIs(ctx context.Context) (map[token.State]string, error) {
	return s.uris.ListStateURIs(ctx)
}

// Aggregates ------------------------------------------------------------------

// ListByOwner scans the whole token population and returns the tokens the
// owner currently holds. This is a full O(n) scan with one ledger lookup per
// token; no incremental index is maintained. Acceptable at the current
// population scale.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]token.OwnedToken, error) {
	tokens, err := s.store.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	result := make([]token.OwnedToken, 0)
	for _, tok := range tokens {
		holder, err := s.ledger.OwnerOf(ctx, tok.ID)
		if err != nil || holder != owner {
			continue
		}
		result = append(result, token.OwnedToken{
			ID:        tok.ID,
			State:     tok.State,
			Companion: tok.Companion,
		})
	}
	return result, nil
}

// StatsByOwner aggregates the owner's holdings per lifecycle state. Same
// O(n) scan as ListByOwner.
func (s *Service) StatsByOwner(ctx context.Context, owner string) (token.OwnerStats, error) {
	tokens, err := s.store.ListTokens(ctx)
	if err != nil {
		return token.OwnerStats{}, fmt.Errorf("list tokens: %w", err)
	}

	var stats token.OwnerStats
	for _, tok := range tokens {
		holder, err := s.ledger.OwnerOf(ctx, tok.ID)
		if err != nil || holder != owner {
			continue
		}
		stats.Total++
		switch tok.State {
		case token.StateCreated:
			stats.Created++
		case token.StateMatched:
			stats.Matched++
		case token.StateCompleted: // shares ordinal 3 with StateFinished
			if s.variant == token.VariantSimplified {
				stats.Finished++
			} else {
				stats.Completed++
			}
		case token.StateRated:
			stats.Rated++
		case token.StatePaid:
			stats.Paid++
		}
	}
	return stats, nil
}

// CountByState returns the population per lifecycle state across all owners.
// Used by the stats refresher to publish gauges.
func (s *Service) CountByState(ctx context.Context) (map[token.State]int, error) {
	tokens, err := s.store.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	counts := make(map[token.State]int, len(s.variant.States()))
	for _, st := range s.variant.States() {
		counts[st] = 0
	}
	for _, tok := range tokens {
		counts[tok.State]++
	}
	return counts, nil
}

// Helpers ---------------------------------------------------------------------

// stateURI looks up the configured URI for a state. An absent binding is the
// normal no-op; a store failure is logged and treated as absent so a flaky
// URI table cannot block transitions.
func (s *Service) stateURI(ctx context.Context, st token.State) (string, bool) {
	uri, ok, err := s.uris.GetStateURI(ctx, st)
	if err != nil {
		s.log.WithError(err).
			WithField("state", s.variant.Name(st)).
			Warn("state uri lookup failed; applying none")
		return "", false
	}
	return uri, ok
}

func (s *Service) getLocked(ctx context.Context, id uint64) (token.Token, error) {
	tok, err := s.store.GetToken(ctx, id)
	if err != nil {
		return token.Token{}, fmt.Errorf("token %d: %w", id, ErrNotFound)
	}
	return tok, nil
}

func (s *Service) emit(ev events.Event) {
	if s.events != nil {
		s.events.Record(ev)
	}
}

func (s *Service) reject(err error) error {
	metrics.RecordRejected(errorKind(err))
	return err
}

func findEdge(edges []token.Edge, target token.State) (token.Edge, bool) {
	for _, e := range edges {
		if e.Target == target {
			return e, true
		}
	}
	return token.Edge{}, false
}
