// Package memory provides the in-memory storage implementation. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
	"github.com/cuidalink/service-registry/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces.
type Store struct {
	mu        sync.RWMutex
	nextID    uint64
	tokens    map[uint64]token.Token
	stateURIs map[token.State]string
}

var _ storage.TokenStore = (*Store)(nil)
var _ storage.URITableStore = (*Store)(nil)

// New creates an empty store. Token ids start at zero.
func New() *Store {
	return &Store{
		tokens:    make(map[uint64]token.Token),
		stateURIs: make(map[token.State]string),
	}
}

// TokenStore implementation --------------------------------------------------

func (s *Store) NextTokenID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID, nil
}

func (s *Store) CreateToken(_ context.Context, tok token.Token) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.ID != s.nextID {
		return token.Token{}, fmt.Errorf("token id %d does not match next id %d", tok.ID, s.nextID)
	}

	now := time.Now().UTC()
	tok.CreatedAt = now
	tok.UpdatedAt = now
	tok.Metadata = copyMap(tok.Metadata)

	s.tokens[tok.ID] = tok
	s.nextID++
	return cloneToken(tok), nil
}

func (s *Store) GetToken(_ context.Context, id uint64) (token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[id]
	if !ok {
		return token.Token{}, fmt.Errorf("token %d not found", id)
	}
	return cloneToken(tok), nil
}

func (s *Store) UpdateToken(_ context.Context, tok token.Token) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tokens[tok.ID]
	if !ok {
		return token.Token{}, fmt.Errorf("token %d not found", tok.ID)
	}

	tok.CreatedAt = original.CreatedAt
	tok.UpdatedAt = time.Now().UTC()
	tok.Metadata = copyMap(tok.Metadata)

	s.tokens[tok.ID] = tok
	return cloneToken(tok), nil
}

func (s *Store) ApplyTransition(_ context.Context, updated token.Token, evidence *token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tokens[updated.ID]
	if !ok {
		return fmt.Errorf("token %d not found", updated.ID)
	}
	if evidence != nil && evidence.ID != s.nextID {
		return fmt.Errorf("evidence id %d does not match next id %d", evidence.ID, s.nextID)
	}

	now := time.Now().UTC()
	updated.CreatedAt = original.CreatedAt
	updated.UpdatedAt = now
	updated.Metadata = copyMap(updated.Metadata)
	s.tokens[updated.ID] = updated

	if evidence != nil {
		ev := *evidence
		ev.CreatedAt = now
		ev.UpdatedAt = now
		ev.Metadata = copyMap(ev.Metadata)
		s.tokens[ev.ID] = ev
		s.nextID++
	}
	return nil
}

func (s *Store) ListTokens(_ context.Context) ([]token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]token.Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		result = append(result, cloneToken(tok))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// URITableStore implementation -----------------------------------------------

func (s *Store) SetStateURI(_ context.Context, st token.State, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateURIs[st] = uri
	return nil
}

func (s *Store) GetStateURI(_ context.Context, st token.State) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uri, ok := s.stateURIs[st]
	return uri, ok, nil
}

func (s *Store) ListStateURIs(_ context.Context) (map[token.State]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[token.State]string, len(s.stateURIs))
	for k, v := range s.stateURIs {
		out[k] = v
	}
	return out, nil
}

// Helpers ---------------------------------------------------------------------

func copyMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneToken(tok token.Token) token.Token {
	tok.Metadata = copyMap(tok.Metadata)
	return tok
}
