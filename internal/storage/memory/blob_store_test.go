package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "job/000001-page.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://job/000001-page.html", uri)

	payload[0] = 'C'
	data, contentType, ok := store.Object("job/000001-page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(data))
	require.Equal(t, "text/html", contentType)
	require.Equal(t, []string{"job/000001-page.html"}, store.Keys())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "text/plain", []byte("x"))
	require.Error(t, err)
}
