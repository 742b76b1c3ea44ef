package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"signsync/internal/ipc"
	"signsync/internal/upload"
)

const (
	exitUploadFailed      = 1
	exitUploadInterrupted = 2
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Run one upload cycle now",
		Long: "Run one upload cycle now. Exits 0 when everything was uploaded, 2 when\n" +
			"the cycle was interrupted by a pause and should be retried later, and 1\n" +
			"on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				resp, err := api.Upload(c)
				if err != nil {
					return err
				}
				return reportUpload(cmd, resp)
			})
		},
	}
}

func reportUpload(cmd *cobra.Command, resp ipc.UploadResponse) error {
	out := cmd.OutOrStdout()
	switch resp.Result {
	case upload.Success.String():
		fmt.Fprintln(out, "Upload complete")
		return nil
	case upload.Interrupted.String():
		fmt.Fprintln(out, "Upload interrupted; remaining data will be sent on the next cycle")
		return &exitError{code: exitUploadInterrupted}
	default:
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "upload failed"
		}
		return &exitError{code: exitUploadFailed, err: errors.New(msg)}
	}
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	var until string
	var clear bool
	cmd := &cobra.Command{
		Use:   "pause [duration]",
		Short: "Pause background uploads",
		Long: "Pause background uploads. With no arguments the configured foreground\n" +
			"pause is applied. A duration extends the pause to at least now+duration;\n" +
			"--until sets an absolute deadline and --clear resumes uploads.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildPauseRequest(ctx, args, until, clear)
			if err != nil {
				return err
			}
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				resp, err := api.Pause(c, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !resp.Paused {
					fmt.Fprintln(out, "Uploads resumed")
					return nil
				}
				fmt.Fprintf(out, "Uploads paused until %s\n", resp.Until.Local().Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "Pause until an absolute RFC3339 time")
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the pause and resume uploads")
	cmd.MarkFlagsMutuallyExclusive("until", "clear")
	return cmd
}

func buildPauseRequest(ctx *commandContext, args []string, until string, clear bool) (ipc.PauseRequest, error) {
	if (clear || strings.TrimSpace(until) != "") && len(args) > 0 {
		return ipc.PauseRequest{}, errors.New("a duration cannot be combined with --until or --clear")
	}
	switch {
	case clear:
		return ipc.PauseRequest{Clear: true}, nil
	case strings.TrimSpace(until) != "":
		deadline, err := time.Parse(time.RFC3339, strings.TrimSpace(until))
		if err != nil {
			return ipc.PauseRequest{}, fmt.Errorf("parse --until: %w", err)
		}
		return ipc.PauseRequest{Until: &deadline}, nil
	case len(args) == 1:
		d, err := time.ParseDuration(strings.TrimSpace(args[0]))
		if err != nil {
			return ipc.PauseRequest{}, fmt.Errorf("parse duration: %w", err)
		}
		if d <= 0 {
			return ipc.PauseRequest{}, errors.New("duration must be positive")
		}
		return ipc.PauseRequest{Seconds: int64((d + time.Second - 1) / time.Second)}, nil
	default:
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return ipc.PauseRequest{}, err
		}
		return ipc.PauseRequest{Seconds: int64(cfg.Workflow.ForegroundPause)}, nil
	}
}
