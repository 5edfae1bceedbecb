package main

import (
	"github.com/spf13/cobra"
)

func newCapsuleCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "capsule", Short: "Manage capsules"}
	cmd.AddCommand(
		newCapsuleCreateCmd(opts),
		newCapsuleResolveCmd(opts),
		newCapsuleGetCmd(opts),
	)
	return cmd
}

func newCapsuleCreateCmd(opts *globalOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a capsule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			capsule, err := opts.client().CreateCapsule(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), capsule)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded on the capsule")
	return cmd
}

func newCapsuleResolveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [owner]",
		Short: "Return the capsule of an owner, creating it on first use",
		Long:  "Without an owner argument the subject of the bearer token is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := ""
			if len(args) == 1 {
				owner = args[0]
			}
			capsule, err := opts.client().ResolveCapsule(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), capsule)
		},
	}
}

func newCapsuleGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <capsule-id>",
		Short: "Show a capsule",
		Args:  requireExactlyArgs(1, "capsule id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			capsule, err := opts.client().GetCapsule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), capsule)
		},
	}
}
