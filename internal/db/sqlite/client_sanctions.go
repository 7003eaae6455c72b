package sqlite

import (
	"context"
	"fmt"

	"github.com/iamwavecut/tool"
	"github.com/pborman/uuid"

	"github.com/iamwavecut/ngguard/internal/db"
)

const sanctionColumns = `id, chat_id, user_id, action, offense, duration_ns, mode, reason, failed, created_at`

func (c *sqliteClient) AddSanction(ctx context.Context, sanction *db.Sanction) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if sanction.ID == "" {
		sanction.ID = uuid.New()
	}
	query := `
		INSERT INTO sanctions (` + sanctionColumns + `)
		VALUES (:id, :chat_id, :user_id, :action, :offense, :duration_ns, :mode, :reason, :failed, :created_at)
	`
	if err := tool.Err(c.db.NamedExecContext(ctx, query, sanction)); err != nil {
		return fmt.Errorf("failed to add sanction: %w", err)
	}
	return nil
}

func (c *sqliteClient) ListSanctions(ctx context.Context, chatID int64, limit int) ([]*db.Sanction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var res []*db.Sanction
	query := `SELECT ` + sanctionColumns + ` FROM sanctions WHERE chat_id = ? ORDER BY created_at DESC, id LIMIT ?`
	if err := c.db.SelectContext(ctx, &res, query, chatID, normalizeLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to list sanctions: %w", err)
	}
	return res, nil
}

func (c *sqliteClient) ListUserSanctions(ctx context.Context, chatID, userID int64, limit int) ([]*db.Sanction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var res []*db.Sanction
	query := `SELECT ` + sanctionColumns + ` FROM sanctions WHERE chat_id = ? AND user_id = ? ORDER BY created_at DESC, id LIMIT ?`
	if err := c.db.SelectContext(ctx, &res, query, chatID, userID, normalizeLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to list user sanctions: %w", err)
	}
	return res, nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 500:
		return 500
	}
	return limit
}
