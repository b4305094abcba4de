// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
	"github.com/cuidalink/service-registry/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.TokenStore = (*Store)(nil)
var _ storage.URITableStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const tokenColumns = `id, state, rating, companion, evidence_of, evidence, uri, metadata, created_at, updated_at`

// --- TokenStore --------------------------------------------------------------

func (s *Store) NextTokenID(ctx context.Context) (uint64, error) {
	var next uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT next_id FROM service_counters WHERE name = 'token'
	`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("read token counter: %w", err)
	}
	return next, nil
}

func (s *Store) CreateToken(ctx context.Context, tok token.Token) (token.Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return token.Token{}, err
	}
	defer tx.Rollback()

	var next uint64
	if err := tx.QueryRowContext(ctx, `
		SELECT next_id FROM service_counters WHERE name = 'token' FOR UPDATE
	`).Scan(&next); err != nil {
		return token.Token{}, fmt.Errorf("read token counter: %w", err)
	}
	if tok.ID != next {
		return token.Token{}, fmt.Errorf("token id %d does not match next id %d", tok.ID, next)
	}

	now := time.Now().UTC()
	tok.CreatedAt = now
	tok.UpdatedAt = now

	metadataJSON, err := json.Marshal(tok.Metadata)
	if err != nil {
		return token.Token{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO service_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tok.ID, tok.State, tok.Rating, tok.Companion, tok.EvidenceOf, tok.Evidence,
		tok.URI, metadataJSON, tok.CreatedAt, tok.UpdatedAt); err != nil {
		return token.Token{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE service_counters SET next_id = next_id + 1 WHERE name = 'token'
	`); err != nil {
		return token.Token{}, err
	}

	if err := tx.Commit(); err != nil {
		return token.Token{}, err
	}
	return tok, nil
}

func (s *Store) GetToken(ctx context.Context, id uint64) (token.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM service_tokens WHERE id = $1
	`, id)
	return scanToken(row)
}

func (s *Store) UpdateToken(ctx context.Context, tok token.Token) (token.Token, error) {
	existing, err := s.GetToken(ctx, tok.ID)
	if err != nil {
		return token.Token{}, err
	}

	tok.CreatedAt = existing.CreatedAt
	tok.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(tok.Metadata)
	if err != nil {
		return token.Token{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE service_tokens
		SET state = $2, rating = $3, companion = $4, evidence_of = $5,
			evidence = $6, uri = $7, metadata = $8, updated_at = $9
		WHERE id = $1
	`, tok.ID, tok.State, tok.Rating, tok.Companion, tok.EvidenceOf,
		tok.Evidence, tok.URI, metadataJSON, tok.UpdatedAt)
	if err != nil {
		return token.Token{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return token.Token{}, sql.ErrNoRows
	}
	return tok, nil
}

func (s *Store) ApplyTransition(ctx context.Context, updated token.Token, evidence *token.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	metadataJSON, err := json.Marshal(updated.Metadata)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE service_tokens
		SET state = $2, rating = $3, companion = $4, evidence_of = $5,
			evidence = $6, uri = $7, metadata = $8, updated_at = $9
		WHERE id = $1
	`, updated.ID, updated.State, updated.Rating, updated.Companion,
		updated.EvidenceOf, updated.Evidence, updated.URI, metadataJSON, now)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("token %d not found", updated.ID)
	}

	if evidence != nil {
		var next uint64
		if err := tx.QueryRowContext(ctx, `
			SELECT next_id FROM service_counters WHERE name = 'token' FOR UPDATE
		`).Scan(&next); err != nil {
			return fmt.Errorf("read token counter: %w", err)
		}
		if evidence.ID != next {
			return fmt.Errorf("evidence id %d does not match next id %d", evidence.ID, next)
		}

		evMetadataJSON, err := json.Marshal(evidence.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_tokens (`+tokenColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, evidence.ID, evidence.State, evidence.Rating, evidence.Companion,
			evidence.EvidenceOf, evidence.Evidence, evidence.URI, evMetadataJSON, now, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE service_counters SET next_id = next_id + 1 WHERE name = 'token'
		`); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListTokens(ctx context.Context) ([]token.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM service_tokens ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []token.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tok)
	}
	return result, rows.Err()
}

// --- URITableStore -----------------------------------------------------------

func (s *Store) SetStateURI(ctx context.Context, st token.State, uri string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_uris (state, uri) VALUES ($1, $2)
		ON CONFLICT (state) DO UPDATE SET uri = EXCLUDED.uri
	`, st, uri)
	return err
}

func (s *Store) GetStateURI(ctx context.Context, st token.State) (string, bool, error) {
	var uri string
	err := s.db.QueryRowContext(ctx, `
		SELECT uri FROM state_uris WHERE state = $1
	`, st).Scan(&uri)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return uri, true, nil
}

func (s *Store) ListStateURIs(ctx context.Context) (map[token.State]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, uri FROM state_uris
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[token.State]string)
	for rows.Next() {
		var (
			st  token.State
			uri string
		)
		if err := rows.Scan(&st, &uri); err != nil {
			return nil, err
		}
		out[st] = uri
	}
	return out, rows.Err()
}

// --- Helpers -----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (token.Token, error) {
	var (
		tok         token.Token
		metadataRaw []byte
	)
	if err := row.Scan(&tok.ID, &tok.State, &tok.Rating, &tok.Companion,
		&tok.EvidenceOf, &tok.Evidence, &tok.URI, &metadataRaw,
		&tok.CreatedAt, &tok.UpdatedAt); err != nil {
		return token.Token{}, err
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &tok.Metadata)
	}
	return tok, nil
}
