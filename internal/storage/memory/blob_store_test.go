package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<html>content</html>")
	uri, err := store.PutObject(context.Background(), "evidence/ent-1/7.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://evidence/ent-1/7.html", uri)

	payload[1] = 'H'
	obj, ok := store.Get("evidence/ent-1/7.html")
	require.True(t, ok)
	assert.Equal(t, "<html>content</html>", string(obj.Data))
	assert.Equal(t, "text/html", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("evidence/ent-1/7.html")
	assert.Equal(t, byte('<'), again.Data[0], "Get must return a copy")
}

func TestBlobStoreOverwriteAndPaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	_, err := store.PutObject(ctx, "b.html", "text/html", bytes.NewReader([]byte("1")))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "a.html", "text/html", bytes.NewReader([]byte("2")))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "b.html", "text/html", bytes.NewReader([]byte("3")))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.html", "b.html"}, store.Paths())
	obj, _ := store.Get("b.html")
	assert.Equal(t, "3", string(obj.Data))

	_, err = store.PutObject(ctx, "", "text/html", bytes.NewReader(nil))
	require.Error(t, err)
	_, ok := store.Get("missing")
	assert.False(t, ok)
}
