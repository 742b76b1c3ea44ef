package datamanager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signsync/internal/logging"
	"signsync/internal/registry"
	"signsync/internal/store"
)

// Record partitions.
const (
	PartitionLog     = "log"
	PartitionClip    = "clip"
	PartitionSession = "session"
	PartitionEvent   = "event"
)

// ClipData describes one recorded clip.
type ClipData struct {
	SessionID string    `json:"sessionId"`
	ClipID    string    `json:"clipId"`
	PromptKey string    `json:"promptKey"`
	Filename  string    `json:"filename"`
	StartedAt time.Time `json:"startTimestamp"`
	EndedAt   time.Time `json:"endTimestamp"`
	Valid     bool      `json:"valid"`
}

// SessionInfo summarizes one recording session.
type SessionInfo struct {
	SessionID string    `json:"sessionId"`
	Section   string    `json:"section"`
	StartedAt time.Time `json:"startTimestamp"`
	EndedAt   time.Time `json:"endTimestamp"`
	ClipCount int       `json:"clipCount"`
	Result    string    `json:"result"`
}

// AddKeyValue stages a record in memory. A second call with the same key
// replaces the staged payload. Nothing reaches the store until PersistData.
func (m *Manager) AddKeyValue(ctx context.Context, key string, payload store.Payload, partition string) error {
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer h.release()
	return m.stage(h, key, payload, partition, false)
}

func (m *Manager) stage(_ held, key string, payload store.Payload, partition string, underLock bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("stage record: empty key")
	}
	record := store.Record{
		Key:              key,
		Partition:        partition,
		Payload:          payload,
		CreatedUnderLock: underLock,
		CreatedAt:        m.now().UTC(),
	}
	if idx, ok := m.staged[key]; ok {
		m.stagedOrder[idx] = record
		return nil
	}
	m.staged[key] = len(m.stagedOrder)
	m.stagedOrder = append(m.stagedOrder, record)
	m.stagedCount.Store(int64(len(m.stagedOrder)))
	return nil
}

// StagedCount reports records waiting for PersistData. It does not take the
// manager lock, so it answers while an upload cycle is running.
func (m *Manager) StagedCount() int {
	return int(m.stagedCount.Load())
}

// SaveClipData stages clip metadata under clip-<sessionId>-<clipId>.
func (m *Manager) SaveClipData(ctx context.Context, clip ClipData) error {
	payload, err := store.JSONPayload(clip)
	if err != nil {
		return err
	}
	return m.AddKeyValue(ctx, fmt.Sprintf("clip-%s-%s", clip.SessionID, clip.ClipID), payload, PartitionClip)
}

// SaveSessionInfo stages a session summary under session-<sessionId>.
func (m *Manager) SaveSessionInfo(ctx context.Context, info SessionInfo) error {
	payload, err := store.JSONPayload(info)
	if err != nil {
		return err
	}
	return m.AddKeyValue(ctx, "session-"+info.SessionID, payload, PartitionSession)
}

// LogToServer stages a log line for upload.
func (m *Manager) LogToServer(ctx context.Context, message string) error {
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer h.release()
	return m.logToServer(h, message, false)
}

func (m *Manager) logToServer(h held, message string, underLock bool) error {
	now := m.now().UTC()
	key := fmt.Sprintf("log-%s-%d", now.Format("20060102T150405.000000000Z"), m.logSeq.Add(1))
	return m.stage(h, key, store.TextPayload(message), PartitionLog, underLock)
}

// PersistData flushes staged records to the store, tagged with the current
// tutorial mode, and clears the staging area.
func (m *Manager) PersistData(ctx context.Context) error {
	_, err := m.FlushStaged(ctx)
	return err
}

// FlushStaged is PersistData reporting how many records it wrote.
func (m *Manager) FlushStaged(ctx context.Context) (int, error) {
	h, err := m.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer h.release()
	return m.persist(ctx, h)
}

func (m *Manager) persist(ctx context.Context, _ held) (int, error) {
	if len(m.stagedOrder) == 0 {
		return 0, nil
	}
	tutorial := false
	if state := m.state.Load(); state != nil {
		tutorial = state.TutorialMode
	}
	records := make([]store.Record, len(m.stagedOrder))
	for i, record := range m.stagedOrder {
		record.TutorialMode = tutorial
		records[i] = record
	}
	if err := m.store.PutRecords(ctx, records); err != nil {
		return 0, fmt.Errorf("persist staged records: %w", err)
	}
	m.staged = map[string]int{}
	m.stagedOrder = nil
	m.stagedCount.Store(0)
	m.logger.Debug("staged records persisted",
		logging.String(logging.FieldEventType, "records_persisted"),
		logging.Int("count", len(records)),
	)
	return len(records), nil
}

// WaitForDataLock returns once no other operation holds the lock.
func (m *Manager) WaitForDataLock(ctx context.Context) error {
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	h.release()
	return nil
}

// RegisterFile queues a recording for upload under the current tutorial mode.
func (m *Manager) RegisterFile(ctx context.Context, relativePath string) (*registry.File, error) {
	state, err := m.current()
	if err != nil {
		return nil, err
	}
	h, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.release()
	if latest := m.state.Load(); latest != nil {
		state = latest
	}
	return m.registry.Register(ctx, relativePath, state.TutorialMode)
}
