package datamanager_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signsync/internal/config"
	"signsync/internal/datamanager"
	"signsync/internal/logging"
	"signsync/internal/pause"
	"signsync/internal/server"
	"signsync/internal/store"
	"signsync/internal/testsupport"
	"signsync/internal/upload"
)

const promptsJSON = `{
  "sections": [
    {
      "name": "greetings",
      "mainPrompts": [
        {"key": "hello", "prompt": "Hello", "resourcePath": "img/hello.png"},
        {"key": "bye", "prompt": "Goodbye"}
      ],
      "tutorialPrompts": [
        {"key": "wave", "prompt": "Wave"}
      ]
    }
  ]
}`

type harness struct {
	cfg   *config.Config
	store *store.Store
	fake  *testsupport.FakeServer
	pause *pause.Controller
	mgr   *datamanager.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	fake := testsupport.NewFakeServer(t)
	fake.Prompts = []byte(promptsJSON)
	fake.Resources["img/hello.png"] = []byte("png-bytes")

	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithServerURL(fake.URL)}, opts...)...)
	require.NoError(t, cfg.EnsureDirectories())
	st := testsupport.MustOpenStore(t, cfg)
	h := &harness{cfg: cfg, store: st, fake: fake, pause: pause.New(st, logging.NewNop())}
	h.mgr = h.newManager(t)
	return h
}

func (h *harness) newManager(t *testing.T, opts ...datamanager.Option) *datamanager.Manager {
	t.Helper()
	client := server.NewWithDoer(h.fake.URL, "test", h.fake.Client(), logging.NewNop())
	return datamanager.NewWithDeps(h.cfg, h.store, logging.NewNop(), datamanager.Deps{
		Server: client,
		Gate:   h.pause,
	}, opts...)
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mgr.Initialize(context.Background()))
}

func (h *harness) attach(t *testing.T, username string) {
	t.Helper()
	h.ready(t)
	require.NoError(t, h.mgr.AttachAccount(context.Background(), username, "test-admin"))
}

func (h *harness) writeRecording(t *testing.T, name string, size int64) string {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(h.cfg.UploadDir(), name), size)
	return "upload/" + name
}

func TestStateUnavailableBeforeInitialize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, datamanager.Uninitialized, h.mgr.Readiness())
	_, err := h.mgr.PromptState()
	assert.ErrorIs(t, err, datamanager.ErrStateUnavailable)
	_, err = h.mgr.UploadData(ctx)
	assert.ErrorIs(t, err, datamanager.ErrStateUnavailable)
	_, err = h.mgr.RegisterFile(ctx, "upload/a.mp4")
	assert.ErrorIs(t, err, datamanager.ErrStateUnavailable)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.mgr.AwaitReady(short), datamanager.ErrStateUnavailable)

	h.ready(t)
	assert.Equal(t, datamanager.Ready, h.mgr.Readiness())
	_, err = h.mgr.PromptState()
	assert.ErrorIs(t, err, datamanager.ErrStateUnavailable, "no prompts downloaded yet")
}

func TestInitializeConcurrentCallersSeeFullState(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.mgr.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	state := h.mgr.Snapshot()
	require.NotNil(t, state)
	assert.NotEmpty(t, state.DeviceID)

	again := h.newManager(t)
	require.NoError(t, again.Initialize(context.Background()))
	assert.Equal(t, state.DeviceID, again.Snapshot().DeviceID, "device id is generated once")
}

func TestAttachAccountRejectsInvalidUsernames(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	for _, name := range []string{"", "ab", "Alice", "1abc", "al-ice", "_abc"} {
		err := h.mgr.AttachAccount(context.Background(), name, "test-admin")
		assert.ErrorIs(t, err, datamanager.ErrInvalidUsername, name)
	}
	_, err := os.Stat(h.cfg.LoginTokenPath())
	assert.True(t, os.IsNotExist(err))
}

func TestAttachAccountRegistersTokenAndReloads(t *testing.T) {
	h := newHarness(t)
	h.fake.AnyToken = false
	h.attach(t, "alice")

	raw, err := os.ReadFile(h.cfg.LoginTokenPath())
	require.NoError(t, err)
	token := strings.TrimSpace(string(raw))
	assert.True(t, strings.HasPrefix(token, "alice:"))
	assert.Len(t, strings.TrimPrefix(token, "alice:"), 32)
	assert.True(t, h.fake.HasToken(token))

	state, err := h.mgr.PromptState()
	require.NoError(t, err)
	assert.Equal(t, "alice", state.Username)
	assert.True(t, state.Attached())
	assert.Contains(t, state.Progress, "greetings")

	resource, err := os.ReadFile(filepath.Join(h.cfg.ResourceDir(), "img", "hello.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(resource))
	_, err = os.Stat(h.cfg.PromptsPath())
	assert.NoError(t, err)

	reloaded := h.newManager(t)
	require.NoError(t, reloaded.Initialize(context.Background()))
	assert.Equal(t, "alice", reloaded.Snapshot().Username)
	assert.NotNil(t, reloaded.Snapshot().Prompts)
}

func TestAttachAccountFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	before := h.mgr.Snapshot()

	err := h.mgr.AttachAccount(context.Background(), "alice", "wrong-password")
	require.Error(t, err)
	assert.Same(t, before, h.mgr.Snapshot())
	_, statErr := os.Stat(h.cfg.LoginTokenPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestStagingSameKeyKeepsLatestPayload(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.AddKeyValue(ctx, "k1", store.TextPayload("first"), datamanager.PartitionEvent))
	require.NoError(t, h.mgr.AddKeyValue(ctx, "k1", store.TextPayload("second"), datamanager.PartitionEvent))
	assert.Equal(t, 1, h.mgr.StagedCount())

	stored, err := h.store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, stored, "staging does not touch the store")

	require.NoError(t, h.mgr.PersistData(ctx))
	records, err := h.store.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Payload.Text)
	assert.Zero(t, h.mgr.StagedCount())
}

func TestPersistTagsTutorialMode(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.SetTutorialMode(ctx, true))
	require.NoError(t, h.mgr.SaveClipData(ctx, datamanager.ClipData{SessionID: "s1", ClipID: "3", PromptKey: "hello", Valid: true}))
	require.NoError(t, h.mgr.SaveSessionInfo(ctx, datamanager.SessionInfo{SessionID: "s1", Section: "greetings", ClipCount: 1}))
	require.NoError(t, h.mgr.LogToServer(ctx, "session finished"))
	require.NoError(t, h.mgr.PersistData(ctx))

	records, err := h.store.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "clip-s1-3", records[0].Key)
	assert.Equal(t, datamanager.PartitionClip, records[0].Partition)
	assert.Equal(t, "session-s1", records[1].Key)
	assert.Equal(t, datamanager.PartitionLog, records[2].Partition)
	for _, record := range records {
		assert.True(t, record.TutorialMode, record.Key)
	}

	var clip map[string]any
	require.NoError(t, json.Unmarshal(records[0].Payload.Structured, &clip))
	assert.Equal(t, "hello", clip["promptKey"])
}

func stageRecords(t *testing.T, h *harness, n int) {
	t.Helper()
	ctx := context.Background()
	for i := range n {
		key := "event-" + string(rune('a'+i))
		require.NoError(t, h.mgr.AddKeyValue(ctx, key, store.TextPayload(key), datamanager.PartitionEvent))
	}
	require.NoError(t, h.mgr.PersistData(ctx))
}

func TestUploadDataBatchesRecords(t *testing.T) {
	h := newHarness(t, testsupport.WithBatchSize(2))
	h.attach(t, "alice")
	stageRecords(t, h, 5)

	res, err := h.mgr.UploadData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, upload.Success, res)
	assert.Equal(t, 3, h.fake.SaveCalls)
	assert.Equal(t, []string{"event-a", "event-b", "event-c", "event-d", "event-e"}, h.fake.SavedKeys())

	remaining, err := h.store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestUploadDataKeepsBatchWhenAckFails(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	stageRecords(t, h, 2)
	h.fake.FailSaves = 1

	res, err := h.mgr.UploadData(context.Background())
	require.Error(t, err)
	assert.Equal(t, upload.Failed, res)
	remaining, err := h.store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, remaining, "unacknowledged batch stays staged")

	res, err = h.mgr.UploadData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, upload.Success, res)
	assert.Equal(t, []string{"event-a", "event-b"}, h.fake.SavedKeys())
	remaining, err = h.store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestUploadDataRequiresAccount(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	res, err := h.mgr.UploadData(context.Background())
	assert.Equal(t, upload.Failed, res)
	assert.ErrorIs(t, err, datamanager.ErrNotAttached)
}

func TestUploadDataPausedIsInterrupted(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	stageRecords(t, h, 1)
	_, err := h.pause.PauseForAtLeast(context.Background(), time.Hour)
	require.NoError(t, err)

	res, err := h.mgr.UploadData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, upload.Interrupted, res)
	assert.Zero(t, h.fake.SaveCalls)
	remaining, err := h.store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestUploadDataUploadsRegisteredFiles(t *testing.T) {
	var percents []int
	h := newHarness(t, testsupport.WithBatchSize(1))
	h.mgr = h.newManager(t, datamanager.WithProgressObserver(func(p int) { percents = append(percents, p) }))
	h.attach(t, "alice")
	stageRecords(t, h, 3)
	rel := h.writeRecording(t, "s1-20260501.mp4", 200<<10)
	_, err := h.mgr.RegisterFile(context.Background(), rel)
	require.NoError(t, err)

	res, err := h.mgr.UploadData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, upload.Success, res)

	files, err := h.mgr.Registry().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
	_, err = os.Stat(filepath.Join(h.cfg.Paths.DataDir, rel))
	assert.True(t, os.IsNotExist(err))

	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.Greater(t, percents[i], percents[i-1], "progress must increase")
	}
	assert.Equal(t, 100, percents[len(percents)-1])
	assert.Equal(t, 100, h.mgr.Progress())
}

func TestChangeUserShortCircuitsDirectives(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	ctx := context.Background()

	h.fake.Prompts = []byte(`{"sections":[{"name":"numbers","mainPrompts":[{"key":"one"}]}]}`)
	first := h.fake.AddDirective("noop", "")
	second := h.fake.AddDirective("changeUser", `{"username":"bob","loginToken":"bob:0123456789abcdef"}`)
	third := h.fake.AddDirective("setTutorialMode", "true")

	report, err := h.mgr.RunDirectives(ctx)
	require.NoError(t, err)
	assert.True(t, report.ChangedUser)
	assert.Equal(t, 2, report.Executed)
	assert.Equal(t, []int64{first, second}, h.fake.Completed)
	pending := h.fake.PendingDirectives()
	require.Len(t, pending, 1)
	assert.Equal(t, third, pending[0].ID)

	state, err := h.mgr.PromptState()
	require.NoError(t, err)
	assert.Equal(t, "bob", state.Username)
	assert.False(t, state.TutorialMode, "directive after changeUser must not run")
	_, ok := state.Prompts.Section("numbers")
	assert.True(t, ok, "prompts reloaded for the new identity")

	raw, err := os.ReadFile(h.cfg.LoginTokenPath())
	require.NoError(t, err)
	assert.Equal(t, "bob:0123456789abcdef", strings.TrimSpace(string(raw)))
}

func TestUnknownDirectiveIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	unknown := h.fake.AddDirective("formatDisk", "")
	known := h.fake.AddDirective("setTutorialMode", "true")

	report, err := h.mgr.RunDirectives(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, []int64{known}, h.fake.Completed)
	pending := h.fake.PendingDirectives()
	require.Len(t, pending, 1)
	assert.Equal(t, unknown, pending[0].ID)
	assert.True(t, h.mgr.Snapshot().TutorialMode)
}

func TestDirectivesRunBeforeFileUploads(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	ctx := context.Background()
	keep := h.writeRecording(t, "keep.mp4", 70<<10)
	drop := h.writeRecording(t, "drop.mp4", 70<<10)
	_, err := h.mgr.RegisterFile(ctx, keep)
	require.NoError(t, err)
	_, err = h.mgr.RegisterFile(ctx, drop)
	require.NoError(t, err)
	h.fake.AddDirective("deleteFile", drop)

	res, err := h.mgr.UploadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, upload.Success, res)
	require.Len(t, h.fake.UploadRequests, 1)
	assert.Equal(t, keep, h.fake.UploadRequests[0].Get("path"))
	_, err = os.Stat(filepath.Join(h.cfg.Paths.DataDir, drop))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadStateDirective(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	h.fake.AddDirective("uploadState", "")

	report, err := h.mgr.RunDirectives(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	require.Len(t, h.fake.SavedStates, 1)
	assert.Equal(t, "alice", h.fake.SavedStates[0]["username"])
	assert.Equal(t, h.mgr.Snapshot().DeviceID, h.fake.SavedStates[0]["deviceId"])
}

func TestAdvancePromptFollowsTutorialMode(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	ctx := context.Background()

	require.NoError(t, h.mgr.SetCurrentSection(ctx, "greetings"))
	progress, err := h.mgr.AdvancePrompt(ctx, "greetings")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.MainIndex)

	require.NoError(t, h.mgr.SetTutorialMode(ctx, true))
	progress, err = h.mgr.AdvancePrompt(ctx, "greetings")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.MainIndex)
	assert.Equal(t, 1, progress.TutorialIndex)

	assert.Error(t, h.mgr.SetCurrentSection(ctx, "missing"))

	reopened := h.newManager(t)
	require.NoError(t, reopened.Initialize(ctx))
	state := reopened.Snapshot()
	assert.Equal(t, "greetings", state.CurrentSection)
	assert.True(t, state.TutorialMode)
	assert.Equal(t, 1, state.Progress["greetings"].TutorialIndex)
}

func TestSnapshotsAreNeverMutated(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "alice")
	ctx := context.Background()

	before := h.mgr.Snapshot()
	_, err := h.mgr.AdvancePrompt(ctx, "greetings")
	require.NoError(t, err)
	after := h.mgr.Snapshot()

	assert.NotSame(t, before, after)
	assert.Equal(t, 0, before.Progress["greetings"].MainIndex)
	assert.Equal(t, 1, after.Progress["greetings"].MainIndex)
}

func TestWaitForDataLockWaitsForHolder(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.mgr.WaitForDataLock(ctx))
}
