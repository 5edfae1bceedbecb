package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newBlobCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "blob", Short: "Read and delete blobs"}
	cmd.AddCommand(
		newBlobGetCmd(opts),
		newBlobReadCmd(opts),
		newBlobDeleteCmd(opts),
	)
	return cmd
}

func newBlobGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <blob-id>",
		Short: "Show blob metadata",
		Args:  requireExactlyArgs(1, "blob id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := opts.client().GetBlob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), meta)
		},
	}
}

func newBlobReadCmd(opts *globalOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "read <blob-id>",
		Short: "Write blob content to stdout or a file",
		Long:  "Chunks are fetched one at a time, so blobs above the server's whole-read ceiling can be read too.",
		Args:  requireExactlyArgs(1, "blob id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			meta, err := c.GetBlob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			for i := uint32(0); i < meta.ChunkCount; i++ {
				data, err := c.ReadBlobChunk(cmd.Context(), meta.ID, i)
				if err != nil {
					return fmt.Errorf("read chunk %d: %w", i, err)
				}
				if _, err := w.Write(data); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newBlobDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <blob-id>",
		Short: "Delete a blob",
		Args:  requireExactlyArgs(1, "blob id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteBlob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
