package storage

import (
	"context"
	"fmt"
	"strings"
)

// AppendExchange stores a user message and the assistant reply as one unit.
// Both rows share the store clock; the autoincrement id keeps the user
// message ordered first.
func (s *Store) AppendExchange(ctx context.Context, owner, scope, conversationID, userContent, assistantContent string) ([]Message, error) {
	if owner == "" || conversationID == "" || scope == "" {
		return nil, fmt.Errorf("append exchange: owner, scope and conversation id are required")
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("append exchange", err)
	}
	defer tx.Rollback()

	msgs := []Message{
		{ConversationID: conversationID, OwnerID: owner, Role: RoleUser, Scope: scope, Content: userContent, CreatedAt: now},
		{ConversationID: conversationID, OwnerID: owner, Role: RoleAssistant, Scope: scope, Content: assistantContent, CreatedAt: now},
	}
	for i := range msgs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, user_id, scope, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msgs[i].ConversationID, owner, scope, msgs[i].Role, msgs[i].Content, formatTime(now),
		)
		if err != nil {
			return nil, wrap("append exchange", err)
		}
		if msgs[i].ID, err = res.LastInsertId(); err != nil {
			return nil, wrap("append exchange", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap("append exchange", err)
	}
	return msgs, nil
}

// ConversationMessages returns the messages of one of owner's conversations
// in chronological order. An unknown conversation yields an empty slice.
func (s *Store) ConversationMessages(ctx context.Context, owner, scope, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, scope, content, created_at
		FROM messages
		WHERE user_id = ? AND scope = ? AND conversation_id = ?
		ORDER BY created_at ASC, id ASC`,
		owner, scope, conversationID,
	)
	if err != nil {
		return nil, wrap("conversation messages", err)
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.OwnerID, &m.Role, &m.Scope, &m.Content, &createdAt); err != nil {
			return nil, wrap("conversation messages", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, wrap("conversation messages", fmt.Errorf("parsing created_at: %w", err))
		}
		results = append(results, m)
	}
	return results, wrap("conversation messages", rows.Err())
}

// ConversationHistory summarizes owner's conversations within the given
// scopes, newest first. Each summary carries the first user message.
func (s *Store) ConversationHistory(ctx context.Context, owner string, scopes ...string) ([]ConversationSummary, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	args := []any{owner}
	for _, sc := range scopes {
		args = append(args, sc)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id, m.scope, m.content, m.created_at
		FROM messages m
		WHERE m.user_id = ? AND m.scope IN (`+placeholders(len(scopes))+`) AND m.role = 'user'
		  AND m.id = (
			SELECT MIN(m2.id) FROM messages m2
			WHERE m2.user_id = m.user_id AND m2.scope = m.scope
			  AND m2.conversation_id = m.conversation_id AND m2.role = 'user'
		  )
		ORDER BY m.created_at DESC, m.id DESC`,
		args...,
	)
	if err != nil {
		return nil, wrap("conversation history", err)
	}
	defer rows.Close()

	var results []ConversationSummary
	for rows.Next() {
		var cs ConversationSummary
		var startedAt string
		if err := rows.Scan(&cs.ConversationID, &cs.Scope, &cs.FirstMessage, &startedAt); err != nil {
			return nil, wrap("conversation history", err)
		}
		if cs.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, wrap("conversation history", fmt.Errorf("parsing created_at: %w", err))
		}
		results = append(results, cs)
	}
	return results, wrap("conversation history", rows.Err())
}

// ClearConversations deletes owner's messages in the given scopes, or all of
// owner's messages when no scope is given. It returns the number of rows removed.
func (s *Store) ClearConversations(ctx context.Context, owner string, scopes ...string) (int64, error) {
	query := `DELETE FROM messages WHERE user_id = ?`
	args := []any{owner}
	if len(scopes) > 0 {
		query += ` AND scope IN (` + placeholders(len(scopes)) + `)`
		for _, sc := range scopes {
			args = append(args, sc)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap("clear conversations", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("clear conversations", err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
