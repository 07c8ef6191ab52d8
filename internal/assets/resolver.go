// SPDX-License-Identifier: MIT

// Package assets resolves exercise clip references to local files. Remote
// references are downloaded once into an on-disk cache; local references are
// tried against the configured base directories.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/metrics"
	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"
)

// ErrUnavailable means a clip reference could not be resolved to a readable
// local file.
var ErrUnavailable = errors.New("asset unavailable")

// downloadChunkSize is the copy buffer for remote fetches.
const downloadChunkSize = 64 * 1024

// Options configures a Resolver.
type Options struct {
	CacheDir    string        // download cache for remote clips
	ProjectRoot string        // base for project-relative references
	AssetsBase  string        // optional extra base for relative references
	MaxParallel int           // concurrent downloads in ResolveAll
	Timeout     time.Duration // per-download timeout
	Client      *http.Client  // optional; defaults to http.DefaultClient semantics
}

// Resolver maps clip references to local paths.
type Resolver struct {
	cacheDir    string
	projectRoot string
	assetsBase  string
	maxParallel int
	client      *http.Client
}

// NewResolver builds a Resolver from opts.
func NewResolver(opts Options) *Resolver {
	maxParallel := opts.MaxParallel
	if maxParallel < 1 {
		maxParallel = 4
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Resolver{
		cacheDir:    opts.CacheDir,
		projectRoot: opts.ProjectRoot,
		assetsBase:  opts.AssetsBase,
		maxParallel: maxParallel,
		client:      client,
	}
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// cacheKey derives a stable cache filename from the URL, keeping the clip's
// extension so ffmpeg can sniff the container.
func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	ext := ".mp4"
	if u, err := url.Parse(rawURL); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return hex.EncodeToString(sum[:]) + ext
}

// Resolve maps a single clip reference to a local path. Remote references
// hit the cache first and are downloaded atomically on miss. Relative local
// references are tried under ProjectRoot and then AssetsBase.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrUnavailable)
	}

	if isRemote(ref) {
		return r.resolveRemote(ctx, ref)
	}

	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		candidates = []string{
			filepath.Join(r.projectRoot, ref),
		}
		if r.assetsBase != "" {
			candidates = append(candidates, filepath.Join(r.assetsBase, ref))
		}
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			metrics.IncAssetFetch("local")
			return candidate, nil
		}
	}

	metrics.IncAssetFetch("notfound")
	return "", fmt.Errorf("%w: %s (tried %s)", ErrUnavailable, ref, strings.Join(candidates, ", "))
}

func (r *Resolver) resolveRemote(ctx context.Context, rawURL string) (string, error) {
	cached := filepath.Join(r.cacheDir, cacheKey(rawURL))
	if info, err := os.Stat(cached); err == nil && info.Size() > 0 {
		metrics.IncAssetFetch("hit_disk")
		return cached, nil
	}

	logger := log.WithComponentFromContext(ctx, "assets")
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		metrics.IncAssetFetch("error")
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, rawURL, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.IncAssetFetch("error")
		return "", fmt.Errorf("%w: download %s: %v", ErrUnavailable, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.IncAssetFetch("error")
		return "", fmt.Errorf("%w: download %s: unexpected status %d", ErrUnavailable, rawURL, resp.StatusCode)
	}

	// Pending file plus atomic replace: a crashed download never leaves a
	// truncated clip in the cache.
	pending, err := renameio.NewPendingFile(cached, renameio.WithPermissions(0o640))
	if err != nil {
		metrics.IncAssetFetch("error")
		return "", fmt.Errorf("create pending cache file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	buf := make([]byte, downloadChunkSize)
	written, err := io.CopyBuffer(pending, resp.Body, buf)
	if err != nil {
		metrics.IncAssetFetch("error")
		return "", fmt.Errorf("%w: download %s: %v", ErrUnavailable, rawURL, err)
	}
	if written == 0 {
		metrics.IncAssetFetch("error")
		return "", fmt.Errorf("%w: download %s: empty response body", ErrUnavailable, rawURL)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		metrics.IncAssetFetch("error")
		return "", fmt.Errorf("finalize cache file: %w", err)
	}

	metrics.IncAssetFetch("downloaded")
	metrics.AssetDownloadBytes.Observe(float64(written))
	logger.Info().
		Str("url", rawURL).
		Int64("bytes", written).
		Dur("elapsed", time.Since(start)).
		Msg("asset downloaded")
	return cached, nil
}

// ResolveAll resolves refs with bounded parallelism, preserving order. The
// first failure cancels outstanding downloads.
func (r *Resolver) ResolveAll(ctx context.Context, refs []string) ([]string, error) {
	paths := make([]string, len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)

	for i, ref := range refs {
		g.Go(func() error {
			p, err := r.Resolve(ctx, ref)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
