package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/api"
)

func newMemoryCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "memory", Short: "Manage memories"}
	cmd.AddCommand(
		newMemoryNoteCmd(opts),
		newMemoryGetCmd(opts),
		newMemoryListCmd(opts),
		newMemoryLinkCmd(opts),
		newMemoryDeleteCmd(opts),
	)
	return cmd
}

func newMemoryNoteCmd(opts *globalOptions) *cobra.Command {
	var title string
	var tags []string
	cmd := &cobra.Command{
		Use:   "note <capsule-id> <text>",
		Short: "Create a note memory with the text stored inline",
		Args:  requireExactlyArgs(2, "capsule id and text are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			md := &memories.NoteMetadata{AssetBase: memories.AssetBase{
				Name:     "note.txt",
				MimeType: "text/plain; charset=utf-8",
			}}
			memory, err := opts.client().CreateMemory(cmd.Context(), api.CreateMemoryRequest{
				CapsuleID: args[0],
				Metadata:  memories.MemoryMetadata{Title: title, Kind: memories.MemoryKindNote, Tags: tags},
				InlineAssets: []api.InlineAssetRequest{{
					Bytes:    []byte(args[1]),
					Metadata: api.Tag(md),
				}},
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), memory)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "memory title")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "memory tag (repeatable)")
	return cmd
}

func newMemoryGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <memory-id>",
		Short: "Show a memory",
		Args:  requireExactlyArgs(1, "memory id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			memory, err := opts.client().GetMemory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), memory)
		},
	}
}

func newMemoryListCmd(opts *globalOptions) *cobra.Command {
	var cursor string
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "list <capsule-id>",
		Short: "List a capsule's memories, oldest first",
		Args:  requireExactlyArgs(1, "capsule id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if !all {
				page, err := c.ListMemories(cmd.Context(), args[0], cursor, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), page)
			}

			var items []*memories.Memory
			for {
				page, err := c.ListMemories(cmd.Context(), args[0], cursor, limit)
				if err != nil {
					return err
				}
				items = append(items, page.Items...)
				if page.NextCursor == "" {
					break
				}
				cursor = page.NextCursor
			}
			return writeJSON(cmd.OutOrStdout(), memories.MemoryPage{Items: items})
		},
	}
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume after this cursor")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default when 0)")
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors until the last page")
	return cmd
}

func newMemoryLinkCmd(opts *globalOptions) *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "link <memory-id> <uri>",
		Short: "Attach an externally hosted asset to a memory",
		Args:  requireExactlyArgs(2, "memory id and uri are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := opts.client().AddExternalAsset(cmd.Context(), args[0], api.ExternalAssetRequest{
				Location: memories.ExternalLocation{Provider: provider, URI: args[1]},
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.AssetResponse{AssetID: assetID})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider name (defaults to the URI scheme)")
	return cmd
}

func newMemoryDeleteCmd(opts *globalOptions) *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete <memory-id>",
		Short: "Delete a memory",
		Args:  requireExactlyArgs(1, "memory id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.client().DeleteMemory(cmd.Context(), args[0], cascade)
			if err != nil {
				return err
			}
			if len(result.BlobFailures) > 0 {
				defer fmt.Fprintf(cmd.ErrOrStderr(), "%d blob(s) could not be deleted\n", len(result.BlobFailures))
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also delete the blobs the memory references")
	return cmd
}
