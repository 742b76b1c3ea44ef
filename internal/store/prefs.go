package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GetString returns the raw preference value and whether it exists.
func (t *Tx) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := t.q.QueryRowContext(ctx, "SELECT value FROM prefs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get pref %s: %w", key, err)
	}
	return value, true, nil
}

// SetString stores a preference value, replacing any existing one.
func (t *Tx) SetString(ctx context.Context, key, value string) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

// Remove deletes a preference. Missing keys are not an error.
func (t *Tx) Remove(ctx context.Context, key string) error {
	if _, err := t.q.ExecContext(ctx, "DELETE FROM prefs WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove pref %s: %w", key, err)
	}
	return nil
}

func (t *Tx) GetBool(ctx context.Context, key string) (bool, bool, error) {
	raw, ok, err := t.GetString(ctx, key)
	if err != nil || !ok {
		return false, ok, err
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("pref %s: %w", key, err)
	}
	return value, true, nil
}

func (t *Tx) SetBool(ctx context.Context, key string, value bool) error {
	return t.SetString(ctx, key, strconv.FormatBool(value))
}

func (t *Tx) GetInt(ctx context.Context, key string) (int64, bool, error) {
	raw, ok, err := t.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("pref %s: %w", key, err)
	}
	return value, true, nil
}

func (t *Tx) SetInt(ctx context.Context, key string, value int64) error {
	return t.SetString(ctx, key, strconv.FormatInt(value, 10))
}

func (t *Tx) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := t.GetString(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	value, err := parseTimeString(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("pref %s: %w", key, err)
	}
	return value, true, nil
}

func (t *Tx) SetTime(ctx context.Context, key string, value time.Time) error {
	return t.SetString(ctx, key, formatTime(value))
}

// GetJSON decodes a JSON preference into dst.
func (t *Tx) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := t.GetString(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode pref %s: %w", key, err)
	}
	return true, nil
}

func (t *Tx) SetJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode pref %s: %w", key, err)
	}
	return t.SetString(ctx, key, string(data))
}

// Store-level shortcuts. Reads run outside a transaction; each write is its
// own single-statement edit.

func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	return s.view().GetString(ensureContext(ctx), key)
}

func (s *Store) GetBool(ctx context.Context, key string) (bool, bool, error) {
	return s.view().GetBool(ensureContext(ctx), key)
}

func (s *Store) GetInt(ctx context.Context, key string) (int64, bool, error) {
	return s.view().GetInt(ensureContext(ctx), key)
}

func (s *Store) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	return s.view().GetTime(ensureContext(ctx), key)
}

func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	return s.view().GetJSON(ensureContext(ctx), key, dst)
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.SetString(ctx, key, value) })
}

func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.SetBool(ctx, key, value) })
}

func (s *Store) SetTime(ctx context.Context, key string, value time.Time) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.SetTime(ctx, key, value) })
}

func (s *Store) SetJSON(ctx context.Context, key string, value any) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.SetJSON(ctx, key, value) })
}

func (s *Store) Remove(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.Remove(ctx, key) })
}
