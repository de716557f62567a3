// ABOUTME: Audit log entries for token administration
// ABOUTME: Records actor, action, token, room and outcome of each change

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is an auditable administrative action.
type Action string

const (
	ActionCreateToken     Action = "create_token"
	ActionDeleteToken     Action = "delete_token"
	ActionDeleteAllTokens Action = "delete_all_tokens"
	ActionAllow           Action = "allow"
	ActionDisallow        Action = "disallow"
)

// Entry is one audit log row.
type Entry struct {
	ID        string // UUID v4, generated if empty
	Actor     string // Matrix user ID or "cli:<user>"
	Action    Action
	Token     string // affected token or pattern, may be empty
	RoomID    string
	Outcome   string // "ok" or an error kind label
	Timestamp time.Time
	Detail    map[string]any
}

// tsLayout is fixed width so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Recorder is what the bot needs from the audit log.
type Recorder interface {
	Append(ctx context.Context, e *Entry) error
}

// Append stores e, filling ID, Timestamp and Outcome when unset.
func (s *SQLiteStore) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = "ok"
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor, action, token, room_id, outcome, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, string(e.Action), e.Token, e.RoomID, e.Outcome,
		e.Timestamp.UTC().Format(tsLayout), detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit entry", "id", e.ID, "actor", e.Actor, "action", e.Action, "token", e.Token)
	return nil
}

// normalizeLimit applies a default of 100 and a cap of 1000.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// List returns the most recent entries, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, actor, action, token, room_id, outcome, ts, detail_json
		FROM audit_log
		ORDER BY ts DESC, rowid DESC
		LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var action, ts string
		var detailJSON *string
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Token, &e.RoomID, &e.Outcome, &ts, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = Action(action)
		if e.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
