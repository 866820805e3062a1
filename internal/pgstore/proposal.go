package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aethercore/aether/internal/errs"
	"github.com/aethercore/aether/internal/proposal"
)

// ProposalStore implements proposal.Store against Postgres. The full
// proposal document is stored as JSON; status is duplicated into its own
// indexed column so ListByStatus stays a plain equality query.
type ProposalStore struct {
	db *sql.DB
}

// NewProposalStore wraps an open pool as a proposal.Store.
func NewProposalStore(db *sql.DB) *ProposalStore {
	return &ProposalStore{db: db}
}

func (s *ProposalStore) Create(ctx context.Context, p *proposal.Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pgstore: marshal proposal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, status, document) VALUES ($1, $2, $3)
	`, p.ID, p.Status, raw)
	if err != nil {
		return fmt.Errorf("pgstore: create proposal: %w", err)
	}
	return nil
}

func (s *ProposalStore) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	var raw []byte
	row := s.db.QueryRowContext(ctx, `SELECT document FROM proposals WHERE id = $1`, id)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("proposal %s not found", id)
		}
		return nil, fmt.Errorf("pgstore: get proposal: %w", err)
	}
	var p proposal.Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal proposal: %w", err)
	}
	return &p, nil
}

func (s *ProposalStore) Update(ctx context.Context, p *proposal.Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pgstore: marshal proposal: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET status = $2, document = $3 WHERE id = $1
	`, p.ID, p.Status, raw)
	if err != nil {
		return fmt.Errorf("pgstore: update proposal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("proposal %s not found", p.ID)
	}
	return nil
}

func (s *ProposalStore) ListByStatus(ctx context.Context, status proposal.Status) ([]*proposal.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM proposals WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list proposals: %w", err)
	}
	defer rows.Close()

	var out []*proposal.Proposal
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("pgstore: scan proposal: %w", err)
		}
		var p proposal.Proposal
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal proposal: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate proposals: %w", err)
	}
	return out, nil
}
