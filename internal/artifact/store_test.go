package artifact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
)

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestSaveKeysByJobSeqAndHash(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	store := New(blobs, nil, "/artifacts/", nil)

	ref, err := store.Save(context.Background(), "job-1", 3, Artifact{Kind: KindDOM, Data: []byte("<html></html>")})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref.Key, "artifacts/job-1/000003-dom-"), ref.Key)
	require.True(t, strings.HasSuffix(ref.Key, ".html"), ref.Key)
	require.Equal(t, "memory://"+ref.Key, ref.URI)
	require.True(t, strings.HasPrefix(ref.Hash, "sha256:"))
	require.Equal(t, "dom", ref.Kind)

	data, contentType, ok := blobs.Object(ref.Key)
	require.True(t, ok)
	require.Equal(t, "<html></html>", string(data))
	require.Equal(t, "text/html; charset=utf-8", contentType)
}

func TestSaveIsContentAddressed(t *testing.T) {
	t.Parallel()

	store := New(memory.NewBlobStore(), nil, "", nil)
	ctx := context.Background()
	a, err := store.Save(ctx, "j", 1, Artifact{Kind: KindData, Data: []byte(`{"a":1}`)})
	require.NoError(t, err)
	b, err := store.Save(ctx, "j", 1, Artifact{Kind: KindData, Data: []byte(`{"a":1}`)})
	require.NoError(t, err)
	c, err := store.Save(ctx, "j", 1, Artifact{Kind: KindData, Data: []byte(`{"a":2}`)})
	require.NoError(t, err)

	require.Equal(t, a.Key, b.Key)
	require.NotEqual(t, a.Key, c.Key)
	require.True(t, strings.HasPrefix(a.Key, "j/000001-data-"))
}

func TestSaveRejectsEmptyAndUnknown(t *testing.T) {
	t.Parallel()

	store := New(memory.NewBlobStore(), nil, "", nil)
	_, err := store.Save(context.Background(), "j", 1, Artifact{Kind: KindScreenshot})
	require.Error(t, err)
	_, err = store.Save(context.Background(), "j", 1, Artifact{Kind: "video", Data: []byte("x")})
	require.Error(t, err)
}

func TestSaveAllSkipsEmptyAndReportsFirstError(t *testing.T) {
	t.Parallel()

	store := New(memory.NewBlobStore(), nil, "", nil)
	refs, err := store.SaveAll(context.Background(), "j", 2,
		Artifact{Kind: KindScreenshot},
		Artifact{Kind: KindDOM, Data: []byte("<p>")},
		Artifact{Kind: KindData, Data: []byte("{}")},
	)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	failing := New(failingBlobs{}, nil, "", nil)
	refs, err = failing.SaveAll(context.Background(), "j", 2, Artifact{Kind: KindDOM, Data: []byte("<p>")})
	require.Error(t, err)
	require.Empty(t, refs)
}
