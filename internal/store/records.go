package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload is either plain text or a structured JSON value.
type Payload struct {
	Text       string
	Structured json.RawMessage
}

// TextPayload wraps a plain string payload.
func TextPayload(text string) Payload {
	return Payload{Text: text}
}

// JSONPayload encodes value as a structured payload.
func JSONPayload(value any) (Payload, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	return Payload{Structured: data}, nil
}

// IsStructured reports whether the payload carries JSON.
func (p Payload) IsStructured() bool {
	return len(p.Structured) > 0
}

// MarshalJSON emits structured payloads verbatim and text as a JSON string.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsStructured() {
		return p.Structured, nil
	}
	return json.Marshal(p.Text)
}

// UnmarshalJSON accepts either a JSON string or any other JSON value.
func (p *Payload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		p.Structured = nil
		return json.Unmarshal(trimmed, &p.Text)
	}
	p.Text = ""
	p.Structured = append(json.RawMessage(nil), trimmed...)
	return nil
}

// Record is a staged key/value record awaiting upload. Key doubles as the
// server-side idempotency token.
type Record struct {
	Key              string    `json:"key"`
	Partition        string    `json:"partition"`
	Payload          Payload   `json:"data"`
	TutorialMode     bool      `json:"tutorialMode"`
	CreatedUnderLock bool      `json:"-"`
	CreatedAt        time.Time `json:"timestamp"`
}

// PutRecords upserts records by key. Existing rows keep their discovery order.
func (t *Tx) PutRecords(ctx context.Context, records []Record) error {
	for _, rec := range records {
		if strings.TrimSpace(rec.Key) == "" {
			return fmt.Errorf("put record: empty key")
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		payload := rec.Payload.Text
		if rec.Payload.IsStructured() {
			payload = string(rec.Payload.Structured)
		}
		_, err := t.q.ExecContext(ctx,
			`INSERT INTO staged_records (key, partition, payload, structured, tutorial_mode, created_under_lock, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   partition = excluded.partition,
			   payload = excluded.payload,
			   structured = excluded.structured,
			   tutorial_mode = excluded.tutorial_mode,
			   created_under_lock = excluded.created_under_lock,
			   created_at = excluded.created_at`,
			rec.Key, rec.Partition, payload, boolToInt(rec.Payload.IsStructured()),
			boolToInt(rec.TutorialMode), boolToInt(rec.CreatedUnderLock), formatTime(created))
		if err != nil {
			return fmt.Errorf("put record %s: %w", rec.Key, err)
		}
	}
	return nil
}

// ListRecords returns staged records in discovery order.
func (t *Tx) ListRecords(ctx context.Context) ([]Record, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT key, partition, payload, structured, tutorial_mode, created_under_lock, created_at
		 FROM staged_records ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                            Record
			payload, createdRaw            string
			structured, tutorial, underLock int
		)
		if err := rows.Scan(&rec.Key, &rec.Partition, &payload, &structured, &tutorial, &underLock, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if structured != 0 {
			rec.Payload = Payload{Structured: json.RawMessage(payload)}
		} else {
			rec.Payload = TextPayload(payload)
		}
		rec.TutorialMode = tutorial != 0
		rec.CreatedUnderLock = underLock != 0
		if created, err := parseTimeString(createdRaw); err == nil {
			rec.CreatedAt = created
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRecords removes exactly the given keys.
func (t *Tx) DeleteRecords(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if _, err := t.q.ExecContext(ctx, "DELETE FROM staged_records WHERE key = ?", key); err != nil {
			return fmt.Errorf("delete record %s: %w", key, err)
		}
	}
	return nil
}

// DeleteAllRecords clears the staging table.
func (t *Tx) DeleteAllRecords(ctx context.Context) error {
	if _, err := t.q.ExecContext(ctx, "DELETE FROM staged_records"); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

func (t *Tx) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := t.q.QueryRowContext(ctx, "SELECT COUNT(1) FROM staged_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *Store) PutRecords(ctx context.Context, records []Record) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.PutRecords(ctx, records) })
}

func (s *Store) ListRecords(ctx context.Context) ([]Record, error) {
	return s.view().ListRecords(ensureContext(ctx))
}

func (s *Store) DeleteRecords(ctx context.Context, keys []string) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.DeleteRecords(ctx, keys) })
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	return s.view().CountRecords(ensureContext(ctx))
}
