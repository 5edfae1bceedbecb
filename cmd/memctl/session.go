package main

import (
	"github.com/spf13/cobra"
)

func newSessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Inspect and manage upload sessions"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <session-id>",
			Short: "Show an upload session",
			Args:  requireExactlyArgs(1, "session id is required"),
			RunE: func(cmd *cobra.Command, args []string) error {
				session, err := opts.client().GetUpload(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), session)
			},
		},
		&cobra.Command{
			Use:   "abort <session-id>",
			Short: "Abort an open upload session",
			Args:  requireExactlyArgs(1, "session id is required"),
			RunE: func(cmd *cobra.Command, args []string) error {
				session, err := opts.client().AbortUpload(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), session)
			},
		},
		&cobra.Command{
			Use:   "reap",
			Short: "Expire abandoned sessions now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				result, err := opts.client().ReapSessions(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			},
		},
	)
	return cmd
}
