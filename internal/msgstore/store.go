// Package msgstore implements the Message Store: an append-only log of
// thread messages with a mutable compressed_content sidecar, backed by
// Postgres via pgx.
package msgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentcore/internal/convtypes"
	"agentcore/internal/observability"
)

// batchSize is the internal pagination size for list_llm_messages.
const batchSize = 1000

// Store is the Message Store component.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Append persists a new message and returns its generated message_id.
// Messages are append-only in creation; only UpdateMessage mutates an existing row.
func (s *Store) Append(ctx context.Context, msg convtypes.Message) (string, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	contentJSON, err := encodeContent(msg.Content)
	if err != nil {
		return "", fmt.Errorf("msgstore: encode content: %w", err)
	}
	metaJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return "", fmt.Errorf("msgstore: encode metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages
			(message_id, thread_id, type, is_llm_message, content, metadata, created_at, agent_id, agent_version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.MessageID, msg.ThreadID, string(msg.Type), msg.IsLLMMessage,
		contentJSON, metaJSON, msg.CreatedAt, nullIfEmpty(msg.AgentID), nullIfEmpty(msg.AgentVersionID))
	if err != nil {
		return "", fmt.Errorf("msgstore: append: %w", err)
	}
	observability.LoggerWithTrace(ctx).Debug().Str("thread_id", msg.ThreadID).Str("message_id", msg.MessageID).
		Str("type", string(msg.Type)).Msg("msgstore_append")
	return msg.MessageID, nil
}

// ListLLMMessages returns every message of the thread relevant to the LLM
// view, paginated internally in batchSize-row batches and applying the
// rehydration rule: when metadata.compressed and compressed_content are
// both set, the returned Content substitutes compressed_content for the
// stored content (the full content remains untouched in the DB row).
func (s *Store) ListLLMMessages(ctx context.Context, threadID string) ([]convtypes.Message, error) {
	var out []convtypes.Message
	var lastCreated time.Time
	first := true

	for {
		rows, err := s.pool.Query(ctx, `
			SELECT message_id, thread_id, type, is_llm_message, content, metadata, created_at,
			       coalesce(agent_id, ''), coalesce(agent_version_id, '')
			FROM messages
			WHERE thread_id = $1 AND (created_at > $2 OR $3)
			ORDER BY created_at ASC, message_id ASC
			LIMIT $4`,
			threadID, lastCreated, first, batchSize)
		if err != nil {
			return nil, fmt.Errorf("msgstore: list: %w", err)
		}

		n := 0
		for rows.Next() {
			var (
				m           convtypes.Message
				typ         string
				contentJSON []byte
				metaJSON    []byte
			)
			if err := rows.Scan(&m.MessageID, &m.ThreadID, &typ, &m.IsLLMMessage, &contentJSON, &metaJSON,
				&m.CreatedAt, &m.AgentID, &m.AgentVersionID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("msgstore: scan: %w", err)
			}
			m.Type = convtypes.MessageType(typ)
			if len(metaJSON) > 0 {
				_ = json.Unmarshal(metaJSON, &m.Metadata)
			}
			m.Content = rehydrate(contentJSON, m.Metadata)
			out = append(out, m)
			lastCreated = m.CreatedAt
			n++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		first = false
		if n < batchSize {
			break
		}
	}
	return out, nil
}

// rehydrate substitutes compressed_content for the stored content when a
// message has been marked compressed, otherwise parses stored content back
// into text or object form.
func rehydrate(contentJSON []byte, metadata map[string]any) convtypes.Content {
	compressed, _ := metadata["compressed"].(bool)
	compressedContent, hasCompressed := metadata["compressed_content"].(string)

	if compressed && hasCompressed {
		return convtypes.TextContent(compressedContent)
	}

	// Stored content may be a JSON string (object) or a bare string.
	var asString string
	if err := json.Unmarshal(contentJSON, &asString); err == nil {
		var obj map[string]any
		if err := json.Unmarshal([]byte(asString), &obj); err == nil {
			return convtypes.ObjectContent(obj)
		}
		if compressed {
			// parsing failed and the message is marked compressed: compressed
			// summaries are plain strings by design.
			return convtypes.TextContent(asString)
		}
		return convtypes.TextContent(asString)
	}

	var obj map[string]any
	if err := json.Unmarshal(contentJSON, &obj); err == nil {
		return convtypes.ObjectContent(obj)
	}
	return convtypes.TextContent(string(contentJSON))
}

// UpdateMessage mutates content and/or metadata of an existing row. This is
// the only permitted in-place write path (Context Manager compression).
func (s *Store) UpdateMessage(ctx context.Context, messageID string, content *convtypes.Content, metadata map[string]any) error {
	if content == nil && metadata == nil {
		return nil
	}
	if content != nil {
		contentJSON, err := encodeContent(*content)
		if err != nil {
			return fmt.Errorf("msgstore: encode content: %w", err)
		}
		if _, err := s.pool.Exec(ctx, `UPDATE messages SET content = $1 WHERE message_id = $2`, contentJSON, messageID); err != nil {
			return fmt.Errorf("msgstore: update content: %w", err)
		}
	}
	if metadata != nil {
		metaJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("msgstore: encode metadata: %w", err)
		}
		if _, err := s.pool.Exec(ctx, `UPDATE messages SET metadata = $1 WHERE message_id = $2`, metaJSON, messageID); err != nil {
			return fmt.Errorf("msgstore: update metadata: %w", err)
		}
	}
	return nil
}

// LatestOfType returns the most recently created message of the given type
// for a thread, or nil if none exists.
func (s *Store) LatestOfType(ctx context.Context, threadID string, typ convtypes.MessageType) (*convtypes.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT message_id, thread_id, type, is_llm_message, content, metadata, created_at,
		       coalesce(agent_id, ''), coalesce(agent_version_id, '')
		FROM messages
		WHERE thread_id = $1 AND type = $2
		ORDER BY created_at DESC, message_id DESC
		LIMIT 1`, threadID, string(typ))

	var (
		m           convtypes.Message
		t           string
		contentJSON []byte
		metaJSON    []byte
	)
	if err := row.Scan(&m.MessageID, &m.ThreadID, &t, &m.IsLLMMessage, &contentJSON, &metaJSON,
		&m.CreatedAt, &m.AgentID, &m.AgentVersionID); err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("msgstore: latest_of_type: %w", err)
	}
	m.Type = convtypes.MessageType(t)
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &m.Metadata)
	}
	m.Content = rehydrate(contentJSON, m.Metadata)
	return &m, nil
}

func encodeContent(c convtypes.Content) ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Object)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
