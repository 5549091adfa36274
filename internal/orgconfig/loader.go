package orgconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/log"
)

// DefaultTTL is how long a cached org config stays fresh without
// revalidation.
const DefaultTTL = time.Hour

// maxFetchAttempts bounds idempotent retries on connection errors and 5xx.
const maxFetchAttempts = 3

// Loader fetches org config bodies with an ETag/TTL cache. Only HTTPS
// remotes are allowed; directory/file sources are the admin escape hatch.
type Loader struct {
	CacheFile string
	MetaFile  string
	Client    *http.Client
	TTL       time.Duration
	Now       func() time.Time
}

// NewLoader returns a loader writing its cache under cacheDir.
func NewLoader(cacheFile, metaFile string) *Loader {
	return &Loader{
		CacheFile: cacheFile,
		MetaFile:  metaFile,
		Client:    &http.Client{Timeout: 30 * time.Second},
		TTL:       DefaultTTL,
		Now:       time.Now,
	}
}

// Result is a loaded config body plus cache provenance.
type Result struct {
	Body         []byte
	ETag         string
	LastModified string
	FromCache    bool
	// Stale is set when the remote was unreachable and the cached body was
	// served past its TTL.
	Stale bool
}

// cacheMeta is the persisted sidecar for the cached body.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Load resolves a config source to its body. Accepted source forms:
//   - https://… remote URL
//   - github:owner/repo[#path] shorthand for the raw file on HEAD
//   - a local file path (admin use; exempt from the HTTPS rule)
//
// authSpec follows the env:/command:/null grammar.
func (l *Loader) Load(ctx context.Context, source, authSpec string) (*Result, error) {
	switch {
	case strings.HasPrefix(source, "https://"):
		return l.fetchRemote(ctx, source, authSpec, false)

	case strings.HasPrefix(source, "http://"):
		return nil, cmderr.Newf(cmderr.KindConfig,
			"org config source %q must use HTTPS", source).
			WithAction("change the source to an https:// URL")

	case strings.HasPrefix(source, "github:"):
		url, err := githubRawURL(strings.TrimPrefix(source, "github:"))
		if err != nil {
			return nil, err
		}
		return l.fetchRemote(ctx, url, authSpec, false)

	case source == "":
		return nil, cmderr.New(cmderr.KindConfig, "no org config source configured").
			WithAction("run scc config set-org <url>")

	default:
		// Local file path.
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, cmderr.Wrap(cmderr.KindConfig, err, "reading org config file")
		}
		return &Result{Body: data}, nil
	}
}

// Refresh forces a revalidating fetch regardless of TTL.
func (l *Loader) Refresh(ctx context.Context, source, authSpec string) (*Result, error) {
	if strings.HasPrefix(source, "https://") {
		return l.fetchRemote(ctx, source, authSpec, true)
	}
	return l.Load(ctx, source, authSpec)
}

// FetchProfileSource retrieves a federated team profile document. Profile
// documents are single JSON files, so only url and file sources can carry
// them; the repository-shaped source types describe plugin marketplaces,
// not profile documents.
func (l *Loader) FetchProfileSource(ctx context.Context, src MarketplaceSource, authSpec string) ([]byte, error) {
	switch src.Type {
	case SourceURL:
		token, err := ResolveAuth(ctx, authSpec)
		if err != nil {
			return nil, err
		}
		resp, body, err := l.doWithRetry(ctx, src.URL, token, nil)
		if err != nil {
			return nil, cmderr.Wrap(cmderr.KindNetwork, err, "fetching federated team profile").
				WithAction("check network connectivity and the profile config_source URL")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, cmderr.Newf(cmderr.KindConfig,
				"federated team profile fetch failed: %s", resp.Status)
		}
		return body, nil

	case SourceFile:
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, cmderr.Wrap(cmderr.KindConfig, err, "reading federated team profile")
		}
		return data, nil

	default:
		return nil, cmderr.Newf(cmderr.KindConfig,
			"federated team profiles require a url or file config_source, got %q", src.Type)
	}
}

// githubRawURL maps owner/repo[#path] to the raw file URL on HEAD.
func githubRawURL(spec string) (string, error) {
	path := "scc-org.json"
	if i := strings.Index(spec, "#"); i >= 0 {
		spec, path = spec[:i], spec[i+1:]
	}
	parts := strings.Split(spec, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", cmderr.Newf(cmderr.KindConfig,
			"invalid github source %q: expected github:owner/repo[#path]", spec)
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/HEAD/%s", parts[0], parts[1], path), nil
}

func (l *Loader) fetchRemote(ctx context.Context, url, authSpec string, force bool) (*Result, error) {
	meta := l.readMeta(url)
	cached := l.readCachedBody()
	now := l.now()

	// Fresh cache short-circuits the network entirely.
	if !force && meta != nil && cached != nil && now.Sub(meta.FetchedAt) < l.ttl() {
		return &Result{Body: cached, ETag: meta.ETag, LastModified: meta.LastModified, FromCache: true}, nil
	}

	token, err := ResolveAuth(ctx, authSpec)
	if err != nil {
		return nil, err
	}

	resp, body, err := l.doWithRetry(ctx, url, token, meta)
	if err != nil {
		// Network failure: fall back to stale cache when we have one.
		if cached != nil {
			log.Warn("org config fetch failed, using stale cache", "url", url, "error", err)
			return &Result{Body: cached, ETag: metaETag(meta), FromCache: true, Stale: true}, nil
		}
		return nil, cmderr.Wrap(cmderr.KindNetwork, err, "fetching org config").
			WithAction("check network connectivity and the org config URL")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		m := cacheMeta{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    now,
		}
		l.writeCache(body, m)
		return &Result{Body: body, ETag: m.ETag, LastModified: m.LastModified}, nil

	case http.StatusNotModified:
		if cached == nil {
			return nil, cmderr.New(cmderr.KindState, "server returned 304 but no cached body exists")
		}
		if meta != nil {
			meta.FetchedAt = now
			l.writeMeta(*meta)
		}
		return &Result{Body: cached, ETag: metaETag(meta), FromCache: true}, nil

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, cmderr.Newf(cmderr.KindConfig,
			"org config fetch was denied (%s)", resp.Status).
			WithAction("verify the auth spec resolves a valid token for this source")

	case http.StatusNotFound:
		return nil, cmderr.Newf(cmderr.KindConfig, "org config not found at %s", url).
			WithAction("verify the org config URL")

	default:
		return nil, cmderr.Newf(cmderr.KindNetwork, "org config fetch failed: %s", resp.Status)
	}
}

// doWithRetry performs the GET with conditional headers, retrying only
// connection errors and 5xx responses with exponential backoff.
func (l *Loader) doWithRetry(ctx context.Context, url, token string, meta *cacheMeta) (*http.Response, []byte, error) {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if meta != nil {
			if meta.ETag != "" {
				req.Header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				req.Header.Set("If-Modified-Since", meta.LastModified)
			}
		}

		resp, err := l.client().Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, nil, err
			}
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		}
		return resp, body, nil
	}
	return nil, nil, lastErr
}

func (l *Loader) readMeta(url string) *cacheMeta {
	data, err := os.ReadFile(l.MetaFile)
	if err != nil {
		return nil
	}
	var m cacheMeta
	if err := json.Unmarshal(data, &m); err != nil || m.URL != url {
		return nil
	}
	return &m
}

func (l *Loader) readCachedBody() []byte {
	data, err := os.ReadFile(l.CacheFile)
	if err != nil {
		return nil
	}
	return data
}

func (l *Loader) writeCache(body []byte, meta cacheMeta) {
	// Cache writes are best effort; a failed write only costs a refetch.
	if err := os.MkdirAll(filepath.Dir(l.CacheFile), 0o755); err != nil {
		return
	}
	tmp := l.CacheFile + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err == nil {
		_ = os.Rename(tmp, l.CacheFile)
	}
	l.writeMeta(meta)
}

func (l *Loader) writeMeta(meta cacheMeta) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return
	}
	tmp := l.MetaFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err == nil {
		_ = os.Rename(tmp, l.MetaFile)
	}
}

func (l *Loader) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

func (l *Loader) ttl() time.Duration {
	if l.TTL > 0 {
		return l.TTL
	}
	return DefaultTTL
}

func (l *Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func metaETag(meta *cacheMeta) string {
	if meta == nil {
		return ""
	}
	return meta.ETag
}
