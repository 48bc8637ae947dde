package blob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/internal/config"
)

func TestLocalRoundTrip(t *testing.T) {
	store, err := NewLocal(t.TempDir(), 1024)
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := store.Put(ctx, "pricing sheet.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "pricing sheet.pdf", obj.FileName)
	assert.Equal(t, int64(8), obj.Size)
	assert.True(t, strings.HasSuffix(obj.Ref, "_pricing_sheet.pdf"), obj.Ref)

	data, err := store.Get(ctx, obj.Ref)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestLocalLimit(t *testing.T) {
	store, err := NewLocal(t.TempDir(), 4)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "big.bin", "", []byte("12345"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLocalGetMissing(t *testing.T) {
	store, err := NewLocal(t.TempDir(), 0)
	require.NoError(t, err)

	for _, ref := range []string{"attachments/none.txt", "../etc/passwd", "/etc/passwd", ""} {
		_, err := store.Get(context.Background(), ref)
		assert.ErrorIs(t, err, ErrNotFound, ref)
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "_report.pdf"},
		{"../../secret.txt", "_secret.txt"},
		{`C:\Users\me\deck.pptx`, "_deck.pptx"},
		{"...", "_attachment"},
	}
	for _, tt := range tests {
		key := objectKey(tt.in, now)
		assert.True(t, strings.HasPrefix(key, "attachments/2024/03/09/"), key)
		assert.True(t, strings.HasSuffix(key, tt.want), key)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}
