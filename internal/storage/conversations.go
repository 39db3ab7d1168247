package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/anzu-ai/anzu/internal/model"
)

const conversationColumns = `id, tenant_id, user_id, title, message_count, created_at, updated_at`

func scanConversation(row pgx.Row) (model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateConversation starts a new conversation for a user.
func (db *DB) CreateConversation(ctx context.Context, c model.Conversation) (model.Conversation, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO conversations (id, tenant_id, user_id, title, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6)`,
		c.ID, c.TenantID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("storage: create conversation: %w", err)
	}
	return c, nil
}

// GetConversation retrieves a conversation by ID within a tenant.
func (db *DB) GetConversation(ctx context.Context, tenantID, id uuid.UUID) (model.Conversation, error) {
	c, err := scanConversation(db.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Conversation{}, fmt.Errorf("storage: conversation %s: %w", id, ErrNotFound)
		}
		return model.Conversation{}, fmt.Errorf("storage: get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns a user's conversations in a tenant, most recently
// active first.
func (db *DB) ListConversations(ctx context.Context, tenantID uuid.UUID, userID string, limit, offset int) ([]model.Conversation, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversations WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count conversations: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE tenant_id = $1 AND user_id = $2
		 ORDER BY updated_at DESC
		 LIMIT $3 OFFSET $4`,
		tenantID, userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, total, rows.Err()
}

// AppendMessages adds messages to a conversation, bumps its message count
// and activity timestamp, and meters the turn against the tenant's monthly
// usage — all in one transaction. Each user-role message counts as one
// metered turn for the given period; period "" skips metering. When
// messageLimit > 0 and the increment lands past it, the whole write is
// rolled back and ErrQuotaExceeded is returned, so the quota check and the
// increment cannot race. The first user message also sets the conversation
// title if it is still empty.
func (db *DB) AppendMessages(ctx context.Context, conv model.Conversation, msgs []model.Message, period string, messageLimit int) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin append messages tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	for i := range msgs {
		if msgs[i].ID == uuid.Nil {
			msgs[i].ID = uuid.New()
		}
		if msgs[i].CreatedAt.IsZero() {
			// Preserve ordering for messages appended in one call.
			msgs[i].CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		var citations []byte
		if len(msgs[i].Citations) > 0 {
			citations, err = json.Marshal(msgs[i].Citations)
			if err != nil {
				return fmt.Errorf("storage: marshal citations: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, tenant_id, role, content, citations, model, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			msgs[i].ID, conv.ID, conv.TenantID, string(msgs[i].Role), msgs[i].Content, citations, msgs[i].Model, msgs[i].CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert message: %w", err)
		}
	}

	title := ""
	for _, m := range msgs {
		if m.Role == model.MessageRoleUser {
			title = conversationTitle(m.Content)
			break
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations
		 SET message_count = message_count + $1,
		     title = CASE WHEN title = '' AND $2 <> '' THEN $2 ELSE title END,
		     updated_at = now()
		 WHERE id = $3 AND tenant_id = $4`,
		len(msgs), title, conv.ID, conv.TenantID,
	); err != nil {
		return fmt.Errorf("storage: bump conversation: %w", err)
	}

	if period != "" {
		turns := 0
		for _, m := range msgs {
			if m.Role == model.MessageRoleUser {
				turns++
			}
		}
		if turns > 0 {
			var count int
			if err := tx.QueryRow(ctx,
				`INSERT INTO tenant_usage (tenant_id, period, message_count)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (tenant_id, period) DO UPDATE
				 SET message_count = tenant_usage.message_count + $3, updated_at = now()
				 RETURNING message_count`,
				conv.TenantID, period, turns,
			).Scan(&count); err != nil {
				return fmt.Errorf("storage: meter messages: %w", err)
			}
			if messageLimit > 0 && count > messageLimit {
				return fmt.Errorf("%d/%d messages this period: %w", count, messageLimit, ErrQuotaExceeded)
			}
		}
	}

	return tx.Commit(ctx)
}

// conversationTitle derives a short title from the first user message.
func conversationTitle(content string) string {
	const maxTitle = 80
	runes := []rune(content)
	if len(runes) > maxTitle {
		return string(runes[:maxTitle-1]) + "…"
	}
	return content
}

// ListMessages returns a conversation's messages in chronological order.
func (db *DB) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, limit, offset int) ([]model.Message, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND tenant_id = $2`,
		conversationID, tenantID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count messages: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, conversation_id, tenant_id, role, content, citations, model, created_at
		 FROM messages
		 WHERE conversation_id = $1 AND tenant_id = $2
		 ORDER BY created_at ASC
		 LIMIT $3 OFFSET $4`,
		conversationID, tenantID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var citations []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Role, &m.Content, &citations, &m.Model, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan message: %w", err)
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &m.Citations); err != nil {
				return nil, 0, fmt.Errorf("storage: unmarshal citations: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

// RecentMessages returns the last n messages of a conversation in
// chronological order, for building completion context.
func (db *DB) RecentMessages(ctx context.Context, tenantID, conversationID uuid.UUID, n int) ([]model.Message, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := db.pool.Query(ctx,
		`SELECT role, content FROM (
		   SELECT role, content, created_at FROM messages
		   WHERE conversation_id = $1 AND tenant_id = $2
		   ORDER BY created_at DESC
		   LIMIT $3
		 ) recent ORDER BY created_at ASC`,
		conversationID, tenantID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (db *DB) DeleteConversation(ctx context.Context, tenantID, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete conversation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM messages WHERE conversation_id = $1 AND tenant_id = $2`, id, tenantID,
	); err != nil {
		return fmt.Errorf("storage: delete messages: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: conversation %s: %w", id, ErrNotFound)
	}

	return tx.Commit(ctx)
}
