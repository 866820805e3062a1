package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aethercore/aether/internal/convo"
	"github.com/aethercore/aether/internal/errs"
)

// ConvoStore implements convo.Store against Postgres.
type ConvoStore struct {
	db *sql.DB
}

// NewConvoStore wraps an open pool as a convo.Store.
func NewConvoStore(db *sql.DB) *ConvoStore {
	return &ConvoStore{db: db}
}

func (s *ConvoStore) Create(ctx context.Context, c *convo.Conversation) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("pgstore: marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, status, context)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.UserID, c.Status, ctxJSON)
	if err != nil {
		return fmt.Errorf("pgstore: create conversation: %w", err)
	}
	return nil
}

func (s *ConvoStore) Get(ctx context.Context, id string) (*convo.Conversation, error) {
	var c convo.Conversation
	var ctxJSON []byte
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, context FROM conversations WHERE id = $1
	`, id)
	if err := row.Scan(&c.ID, &c.UserID, &c.Status, &ctxJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: get conversation: %w", err)
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &c.Context); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal context: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_result_id, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m convo.Message
		m.ConversationID = id
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.ToolResultID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate messages: %w", err)
	}

	return &c, nil
}

func (s *ConvoStore) AppendMessage(ctx context.Context, conversationID string, m convo.Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET id = id WHERE id = $1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("pgstore: check conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("conversation %s not found", conversationID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tool_result_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, conversationID, m.Role, m.Content, m.ToolResultID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: append message: %w", err)
	}
	return nil
}

func (s *ConvoStore) Update(ctx context.Context, c *convo.Conversation) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("pgstore: marshal context: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET user_id = $2, status = $3, context = $4 WHERE id = $1
	`, c.ID, c.UserID, c.Status, ctxJSON)
	if err != nil {
		return fmt.Errorf("pgstore: update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("conversation %s not found", c.ID)
	}
	return nil
}
