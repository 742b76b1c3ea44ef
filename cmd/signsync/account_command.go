package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAttachCommand(ctx *commandContext) *cobra.Command {
	var adminPassword string
	cmd := &cobra.Command{
		Use:   "attach <username>",
		Short: "Attach this device to a collection account",
		Long: "Attach this device to a collection account. Pending uploads for the\n" +
			"previous account are flushed first; the new login token applies once\n" +
			"the server accepts the switch.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			password := strings.TrimSpace(adminPassword)
			if password == "" {
				if cfg := ctx.configValue(); cfg != nil {
					password = cfg.Server.AdminPassword
				}
			}
			if password == "" {
				return errors.New("admin password required (set server.admin_password, SIGNSYNC_ADMIN_PASSWORD, or --admin-password)")
			}
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				attached, err := api.Attach(c, username, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Attached as %s\n", attached)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "Admin password for the collection server")
	return cmd
}
