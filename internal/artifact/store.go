// Package artifact persists per-page snapshots and extracted data as
// content-addressed blobs keyed by job and page sequence.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/hash/sha256"
)

// Kind names an artifact type.
type Kind string

// Supported artifact kinds.
const (
	KindScreenshot Kind = "screenshot"
	KindDOM        Kind = "dom"
	KindData       Kind = "data"
)

var extensions = map[Kind]string{
	KindScreenshot: ".jpg",
	KindDOM:        ".html",
	KindData:       ".json",
}

var contentTypes = map[Kind]string{
	KindScreenshot: "image/jpeg",
	KindDOM:        "text/html; charset=utf-8",
	KindData:       "application/json",
}

// Artifact is one payload to persist.
type Artifact struct {
	Kind Kind
	Data []byte
}

// Store writes artifacts to a BlobStore.
type Store struct {
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
	logger *zap.Logger
}

// New builds a Store. A nil hasher defaults to SHA-256.
func New(blobs crawler.BlobStore, hasher crawler.Hasher, prefix string, logger *zap.Logger) *Store {
	if hasher == nil {
		hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.Named("artifact"),
	}
}

// Key builds the storage key "<prefix>/<job>/<seq>-<kind>-<hash12><ext>".
func (s *Store) Key(jobID string, seq int, kind Kind, digest string) string {
	short := digest
	if len(short) > 12 {
		short = short[:12]
	}
	name := fmt.Sprintf("%06d-%s-%s%s", seq, kind, short, extensions[kind])
	if s.prefix == "" {
		return path.Join(jobID, name)
	}
	return path.Join(s.prefix, jobID, name)
}

// Save stores one artifact and returns its reference. Empty payloads are
// rejected so a page never points at a blank object.
func (s *Store) Save(ctx context.Context, jobID string, seq int, a Artifact) (crawler.ArtifactRef, error) {
	ext, ok := extensions[a.Kind]
	if !ok || ext == "" {
		return crawler.ArtifactRef{}, fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	if len(a.Data) == 0 {
		return crawler.ArtifactRef{}, fmt.Errorf("empty %s artifact", a.Kind)
	}
	digest, err := s.hasher.Hash(a.Data)
	if err != nil {
		return crawler.ArtifactRef{}, fmt.Errorf("hash %s artifact: %w", a.Kind, err)
	}
	key := s.Key(jobID, seq, a.Kind, digest)
	uri, err := s.blobs.PutObject(ctx, key, contentTypes[a.Kind], a.Data)
	if err != nil {
		return crawler.ArtifactRef{}, fmt.Errorf("put %s: %w", key, err)
	}
	s.logger.Debug("artifact stored",
		zap.String("job_id", jobID),
		zap.Int("seq", seq),
		zap.String("kind", string(a.Kind)),
		zap.Int("bytes", len(a.Data)),
	)
	return crawler.ArtifactRef{
		Kind:        string(a.Kind),
		Key:         key,
		URI:         uri,
		ContentType: contentTypes[a.Kind],
		Hash:        sha256.Labeled(digest),
	}, nil
}

// SaveAll stores each non-empty artifact and returns the refs that succeeded
// together with the first error.
func (s *Store) SaveAll(ctx context.Context, jobID string, seq int, artifacts ...Artifact) ([]crawler.ArtifactRef, error) {
	var (
		refs     []crawler.ArtifactRef
		firstErr error
	)
	for _, a := range artifacts {
		if len(a.Data) == 0 {
			continue
		}
		ref, err := s.Save(ctx, jobID, seq, a)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		refs = append(refs, ref)
	}
	return refs, firstErr
}
