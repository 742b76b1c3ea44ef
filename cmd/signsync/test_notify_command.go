package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				resp, err := api.TestNotification(c)
				out := cmd.OutOrStdout()
				switch {
				case resp.Message != "":
					fmt.Fprintln(out, resp.Message)
				case resp.Sent:
					fmt.Fprintln(out, "Test notification sent")
				case err == nil:
					fmt.Fprintln(out, "Notification not sent")
				}
				return err
			})
		},
	}
}
