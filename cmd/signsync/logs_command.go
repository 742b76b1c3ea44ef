package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"signsync/internal/ipc"
	"signsync/internal/logging"
	"signsync/internal/logs"
)

const logFollowWait = time.Second

// logSource fetches one batch of log lines starting at offset.
type logSource func(ctx context.Context, offset int64, limit int, follow bool) (ipc.LogTailResponse, error)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, closeFn, err := openLogSource(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			c := cmd.Context()
			if c == nil {
				c = context.Background()
			}
			return streamLogs(c, cmd.OutOrStdout(), source, lines, follow)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they are written")
	return cmd
}

// openLogSource reads through the daemon when it is running and falls back
// to the current log pointer on disk.
func openLogSource(ctx *commandContext) (logSource, func(), error) {
	if client, err := ipc.Dial(ctx.socketPath()); err == nil {
		source := func(_ context.Context, offset int64, limit int, follow bool) (ipc.LogTailResponse, error) {
			req := ipc.LogTailRequest{Offset: offset, Limit: limit, Follow: follow}
			if follow {
				req.WaitMillis = int(logFollowWait / time.Millisecond)
			}
			resp, err := client.LogTail(req)
			if err != nil {
				return ipc.LogTailResponse{Offset: offset}, err
			}
			return *resp, nil
		}
		return source, func() { _ = client.Close() }, nil
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	path := logging.CurrentLogPath(cfg.Paths.LogDir)
	source := func(c context.Context, offset int64, limit int, follow bool) (ipc.LogTailResponse, error) {
		result, err := logs.Tail(c, path, logs.TailOptions{Offset: offset, Limit: limit, Follow: follow, Wait: logFollowWait})
		return ipc.LogTailResponse{Lines: result.Lines, Offset: result.Offset}, err
	}
	return source, func() {}, nil
}

func streamLogs(ctx context.Context, out io.Writer, source logSource, lines int, follow bool) error {
	if lines <= 0 {
		lines = 50
	}
	resp, err := source(ctx, -1, lines, false)
	if err != nil {
		return err
	}
	for _, line := range resp.Lines {
		fmt.Fprintln(out, line)
	}
	offset := resp.Offset
	for follow {
		if ctx.Err() != nil {
			return nil
		}
		resp, err := source(ctx, offset, 0, true)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if len(resp.Lines) == 0 {
			// missing log file returns immediately
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(250 * time.Millisecond):
			}
		}
		for _, line := range resp.Lines {
			fmt.Fprintln(out, line)
		}
		offset = resp.Offset
	}
	return nil
}
