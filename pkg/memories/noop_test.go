package memories_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
)

func TestLoggingEventSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	f := setup(t, memories.WithEventSink(memories.NewLoggingEventSink(logger)))
	ctx := context.Background()

	c := f.capsule(t)
	result := f.upload(t, c.ID, []byte("logged"))
	_, err := f.svc.DeleteMemory(ctx, memories.NewID(memories.KindMemory), false)
	require.Error(t, err)
	require.NoError(t, f.svc.DeleteBlob(ctx, result.BlobID))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"msg":"capsule created"`)
	assert.Contains(t, lines[1], `"msg":"upload finished"`)
	assert.Contains(t, lines[1], `"blob_id":"`+result.BlobID+`"`)
	assert.Contains(t, lines[2], `"msg":"blob deleted"`)
}

func TestNoopEventSink(t *testing.T) {
	f := setup(t, memories.WithEventSink(memories.NewNoopEventSink()))
	c := f.capsule(t)
	f.upload(t, c.ID, []byte("quiet"))
	assert.Empty(t, f.events.Events())
}
