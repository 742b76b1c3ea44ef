package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"signsync/internal/daemonctl"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonStopGrace    = 5 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the signsync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), daemonStartTimeout)
			if err != nil {
				return err
			}
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			printStartState(stdout, result)
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the signsync daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), daemonStopGrace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			printStopResult(stdout, result)
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the signsync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			stopResult, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), daemonStopGrace)
			switch {
			case errors.Is(err, daemonctl.ErrDaemonNotRunning):
			case err != nil:
				return err
			default:
				printStopResult(stdout, stopResult)
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), daemonStartTimeout)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			default:
				printStartState(stdout, result)
			}
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, account, and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if statusJSON {
				return writeJSON(cmd, snap)
			}
			renderStatus(stdout, snap, shouldColorize(stdout), time.Now())
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func printStartState(out io.Writer, result daemonctl.StartResult) {
	switch result.State {
	case daemonctl.StartStateStarted:
		fmt.Fprintln(out, "Daemon started")
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintln(out, "Daemon already running")
	case daemonctl.StartStateRequested:
		if strings.TrimSpace(result.Message) != "" {
			fmt.Fprintln(out, result.Message)
			return
		}
		fmt.Fprintln(out, "Start request sent")
	}
}

func printStopResult(out io.Writer, result daemonctl.StopResult) {
	if result.StopAcknowledged {
		fmt.Fprintln(out, "Stopping daemon...")
	} else {
		fmt.Fprintln(out, "Stop request sent")
	}
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(out, "Killed daemon process (pid %d)\n", result.PID)
	}
	fmt.Fprintln(out, "Daemon stopped")
}

func renderStatus(out io.Writer, snap *daemonctl.Snapshot, colorize bool, now time.Time) {
	d := snap.Daemon

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if d.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "Running (pid "+strconv.Itoa(d.PID)+")", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
	}
	fmt.Fprintln(out, renderValueLine("State", d.Readiness))
	fmt.Fprintln(out, renderValueLine("Database", d.DatabasePath))
	fmt.Fprintln(out, renderValueLine("Lock file", d.LockPath))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Sync State", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderValueLine("Account", d.Username))
	fmt.Fprintln(out, renderValueLine("Device", d.DeviceID))
	fmt.Fprintln(out, renderValueLine("Tutorial mode", yesNo(d.TutorialMode)))
	fmt.Fprintln(out, renderValueLine("Section", d.CurrentSection))
	fmt.Fprintln(out, renderValueLine("Upload progress", fmt.Sprintf("%d%%", d.Progress)))
	fmt.Fprintln(out, renderValueLine("Staged records", strconv.Itoa(d.StagedRecords)))
	fmt.Fprintln(out, renderValueLine("Pending records", strconv.Itoa(d.PendingRecords)))
	fmt.Fprintln(out, renderValueLine("Registered files", strconv.Itoa(d.RegisteredFiles)))
	if d.PausedUntil.After(now) {
		fmt.Fprintln(out, renderStatusLine("Paused", statusWarn, "until "+formatTimestamp(d.PausedUntil, now), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Paused", statusOK, "No", colorize))
	}
	if d.CycleActive {
		fmt.Fprintln(out, renderStatusLine("Upload", statusInfo, "In progress", colorize))
	}
	fmt.Fprintln(out, renderValueLine("Next upload", formatTimestamp(d.NextRun, now)))
	fmt.Fprintln(out, renderValueLine("Last upload", formatTimestamp(d.LastRun, now)))
	if d.LastResult != "" {
		message := d.LastResult
		if d.LastError != "" {
			message += ": " + d.LastError
		}
		fmt.Fprintln(out, renderStatusLine("Last result", resultKind(d.LastResult), message, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, check := range snap.Checks {
		fmt.Fprintln(out, renderStatusLine(check.Name, checkKind(check), check.Detail, colorize))
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}
}
