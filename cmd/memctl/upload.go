package main

import (
	"crypto/sha256"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/api"
	"github.com/tendant/simple-memories/pkg/memories/client"
)

type uploadOptions struct {
	chunkSize      int64
	memory         bool
	title          string
	kind           string
	tags           []string
	idempotencyKey string
	verify         bool
	progress       bool
}

func newUploadCmd(opts *globalOptions) *cobra.Command {
	uo := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload <capsule-id> <path>",
		Short: "Upload a file in chunks and optionally wrap it in a memory",
		Args:  requireExactlyArgs(2, "capsule id and path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, uo, args[0], args[1])
		},
	}
	cmd.Flags().Int64Var(&uo.chunkSize, "chunk-size", memories.DefaultMaxChunkSize, "chunk size in bytes")
	cmd.Flags().BoolVar(&uo.memory, "memory", true, "create a memory around the uploaded blob")
	cmd.Flags().StringVar(&uo.title, "title", "", "memory title (defaults to the file name)")
	cmd.Flags().StringVar(&uo.kind, "kind", "", "memory kind: image, document, audio, video or note (guessed from the extension)")
	cmd.Flags().StringSliceVar(&uo.tags, "tag", nil, "memory tag (repeatable)")
	cmd.Flags().StringVar(&uo.idempotencyKey, "idempotency-key", "", "memory idempotency key")
	cmd.Flags().BoolVar(&uo.verify, "verify", false, "read the blob back and compare its hash")
	cmd.Flags().BoolVar(&uo.progress, "progress", false, "print progress to stderr")
	return cmd
}

func runUpload(cmd *cobra.Command, opts *globalOptions, uo *uploadOptions, capsuleID, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	extra := []client.ClientOption{client.WithChunkSize(uo.chunkSize)}
	if uo.progress {
		stderr := cmd.ErrOrStderr()
		extra = append(extra, client.WithProgress(func(sent, total int64) {
			fmt.Fprintf(stderr, "\r%d/%d bytes", sent, total)
			if sent == total {
				fmt.Fprintln(stderr)
			}
		}))
	}
	c := opts.client(extra...)

	var memoryReq *api.FinishMemoryRequest
	if uo.memory {
		memoryReq = buildFinishMemory(uo, path, info.Size())
	}

	result, err := c.UploadFile(cmd.Context(), capsuleID, file, info.Size(), memoryReq)
	if err != nil {
		return err
	}

	if uo.verify {
		if err := verifyBlob(cmd, c, result); err != nil {
			return err
		}
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func buildFinishMemory(uo *uploadOptions, path string, size int64) *api.FinishMemoryRequest {
	name := filepath.Base(path)
	kind := memories.MemoryKind(uo.kind)
	if kind == "" {
		kind = guessKind(name)
	}
	title := uo.title
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}

	md, err := memories.NewAssetMetadata(memories.AssetKind(kind))
	if err != nil {
		md = &memories.DocumentMetadata{}
	}
	base := md.Base()
	base.Name = name
	base.MimeType = mime.TypeByExtension(filepath.Ext(name))
	if base.MimeType == "" {
		base.MimeType = "application/octet-stream"
	}
	base.Bytes = size
	base.AssetType = memories.AssetTypeOriginal

	return &api.FinishMemoryRequest{
		Metadata: memories.MemoryMetadata{
			Title: title,
			Kind:  kind,
			Tags:  uo.tags,
		},
		AssetMetadata:  api.Tag(md),
		IdempotencyKey: uo.idempotencyKey,
	}
}

var kindByExt = map[string]memories.MemoryKind{
	".txt":  memories.MemoryKindNote,
	".md":   memories.MemoryKindNote,
	".mp3":  memories.MemoryKindAudio,
	".m4a":  memories.MemoryKindAudio,
	".wav":  memories.MemoryKindAudio,
	".flac": memories.MemoryKindAudio,
	".mp4":  memories.MemoryKindVideo,
	".mov":  memories.MemoryKindVideo,
	".webm": memories.MemoryKindVideo,
	".heic": memories.MemoryKindImage,
}

func guessKind(name string) memories.MemoryKind {
	ext := strings.ToLower(filepath.Ext(name))
	if kind, ok := kindByExt[ext]; ok {
		return kind
	}
	mimeType := mime.TypeByExtension(ext)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return memories.MemoryKindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return memories.MemoryKindAudio
	case strings.HasPrefix(mimeType, "video/"):
		return memories.MemoryKindVideo
	}
	return memories.MemoryKindDocument
}

// verifyBlob streams the blob back chunk by chunk and compares the hash with
// the one finish returned.
func verifyBlob(cmd *cobra.Command, c *client.Client, result *memories.FinishResult) error {
	h := sha256.New()
	var n int64
	for i := uint32(0); i < result.ChunkCount; i++ {
		data, err := c.ReadBlobChunk(cmd.Context(), result.BlobID, i)
		if err != nil {
			return fmt.Errorf("verify chunk %d: %w", i, err)
		}
		h.Write(data)
		n += int64(len(data))
	}
	var got memories.Digest
	copy(got[:], h.Sum(nil))
	if got != result.SHA256 || n != result.Size {
		return fmt.Errorf("verify blob %s: %w: got %s (%d bytes), want %s (%d bytes)",
			result.BlobID, memories.ErrHashMismatch, got, n, result.SHA256, result.Size)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "verified %s (%d bytes)\n", result.BlobID, n)
	return nil
}
