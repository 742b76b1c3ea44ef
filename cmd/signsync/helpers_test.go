package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signsync/internal/ipc"
	"signsync/internal/registry"
	"signsync/internal/store"
)

func TestBuildPauseRequest(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := newCommandContext(&env.socketPath, &env.configPath)

	req, err := buildPauseRequest(ctx, nil, "", false)
	require.NoError(t, err)
	assert.Equal(t, int64(env.cfg.Workflow.ForegroundPause), req.Seconds)

	req, err = buildPauseRequest(ctx, []string{"90s"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, int64(90), req.Seconds)

	req, err = buildPauseRequest(ctx, []string{"1500ms"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), req.Seconds, "sub-second remainders round up")

	req, err = buildPauseRequest(ctx, nil, "2030-01-02T03:04:05Z", false)
	require.NoError(t, err)
	require.NotNil(t, req.Until)
	assert.True(t, req.Until.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))

	req, err = buildPauseRequest(ctx, nil, "", true)
	require.NoError(t, err)
	assert.True(t, req.Clear)

	_, err = buildPauseRequest(ctx, []string{"1h"}, "", true)
	assert.Error(t, err)
	_, err = buildPauseRequest(ctx, []string{"-5m"}, "", false)
	assert.Error(t, err)
	_, err = buildPauseRequest(ctx, nil, "tomorrow", false)
	assert.Error(t, err)
}

func TestDataRelativePath(t *testing.T) {
	root := t.TempDir()

	rel, err := dataRelativePath(root, filepath.Join(root, "upload", "a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "upload/a.mp4", rel)

	for _, bad := range []string{"", root, filepath.Join(root, "..", "x.mp4")} {
		_, err := dataRelativePath(root, bad)
		assert.ErrorIs(t, err, registry.ErrInvalidPath, "path %q", bad)
	}
}

func TestFileStage(t *testing.T) {
	cases := []struct {
		file store.RegisteredFile
		want string
	}{
		{store.RegisteredFile{}, "new"},
		{store.RegisteredFile{MD5: "abc"}, "link pending"},
		{store.RegisteredFile{MD5: "abc", UploadLink: "u"}, "session pending"},
		{store.RegisteredFile{MD5: "abc", UploadLink: "u", SessionLink: "s"}, "uploading"},
		{store.RegisteredFile{UploadCompleted: true}, "verifying"},
		{store.RegisteredFile{UploadCompleted: true, UploadVerified: true}, "verified"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, fileStage(tc.file))
	}
}

func TestParseOnOff(t *testing.T) {
	on, err := parseOnOff("ON")
	require.NoError(t, err)
	assert.True(t, on)
	off, err := parseOnOff("no")
	require.NoError(t, err)
	assert.False(t, off)
	_, err = parseOnOff("maybe")
	assert.Error(t, err)
}

func TestStreamLogsFollowsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []int64
	source := func(_ context.Context, offset int64, limit int, follow bool) (ipc.LogTailResponse, error) {
		calls = append(calls, offset)
		switch len(calls) {
		case 1:
			assert.Equal(t, int64(-1), offset)
			assert.Equal(t, 2, limit)
			assert.False(t, follow)
			return ipc.LogTailResponse{Lines: []string{"one", "two"}, Offset: 8}, nil
		case 2:
			assert.True(t, follow)
			return ipc.LogTailResponse{Lines: []string{"three"}, Offset: 14}, nil
		default:
			cancel()
			return ipc.LogTailResponse{Offset: offset}, context.Canceled
		}
	}

	var out bytes.Buffer
	require.NoError(t, streamLogs(ctx, &out, source, 2, true))
	assert.Equal(t, "one\ntwo\nthree\n", out.String())
	assert.Equal(t, []int64{-1, 8, 14}, calls)
}

func TestStreamLogsPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	source := func(context.Context, int64, int, bool) (ipc.LogTailResponse, error) {
		return ipc.LogTailResponse{}, boom
	}
	var out bytes.Buffer
	assert.ErrorIs(t, streamLogs(context.Background(), &out, source, 5, false), boom)
}

func TestReportUploadExitCodes(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)

	assert.NoError(t, reportUpload(cmd, ipc.UploadResponse{Result: "success"}))

	var exit *exitError
	err := reportUpload(cmd, ipc.UploadResponse{Result: "interrupted"})
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitUploadInterrupted, exit.code)

	err = reportUpload(cmd, ipc.UploadResponse{Result: "failed", Error: "server down"})
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitUploadFailed, exit.code)
	assert.EqualError(t, err, "server down")
}
