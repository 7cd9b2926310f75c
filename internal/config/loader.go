package config

import (
	"context"
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

	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"fabrik/internal/logging"
)

// Source is one loaded configuration document.
type Source struct {
	// ID is the canonical identifier used for cycle detection.
	ID string
	// Base is where relative references inside Data are resolved against:
	// a directory for local files, a URL prefix for remote documents.
	Base   string
	Remote bool
	Data   *Node
}

// Loader turns an inheritance reference into a parsed document.
type Loader interface {
	Load(ctx context.Context, ref, base string) (*Source, error)
}

// IsURL reports whether ref is an http(s) URL.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func parseDocument(id string, data []byte) (*Node, error) {
	switch strings.ToLower(path.Ext(strings.SplitN(id, "?", 2)[0])) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return ParseYAML(id, data)
}

// FileLoader reads documents from the local filesystem.
type FileLoader struct{}

func (FileLoader) Load(_ context.Context, ref, base string) (*Source, error) {
	p := ref
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, &SourceNotFoundError{Ref: ref, Err: err}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &SourceNotFoundError{Ref: ref, Err: err}
	}
	node, err := parseDocument(abs, data)
	if err != nil {
		return nil, err
	}
	return &Source{ID: abs, Base: filepath.Dir(abs), Data: node}, nil
}

// HTTPLoader fetches remote documents and keeps a compressed copy of every
// successful download in CacheDir. In Offline mode only the cache is used.
type HTTPLoader struct {
	Client   *http.Client
	CacheDir string
	Offline  bool
}

func NewHTTPLoader(cacheDir string, timeout time.Duration, offline bool) *HTTPLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPLoader{
		Client:   &http.Client{Timeout: timeout},
		CacheDir: cacheDir,
		Offline:  offline,
	}
}

// ResolveURL joins a relative reference onto a remote base.
func ResolveURL(ref, base string) (string, error) {
	if IsURL(ref) {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// urlBase returns the directory part of u, with a trailing slash, so that
// relative references resolve as siblings.
func urlBase(u string) string {
	if i := strings.LastIndex(u, "/"); i >= len("https://") {
		return u[:i+1]
	}
	return u + "/"
}

func (l *HTTPLoader) Load(ctx context.Context, ref, base string) (*Source, error) {
	target, err := ResolveURL(ref, base)
	if err != nil {
		return nil, &SourceNotFoundError{Ref: ref, Err: err}
	}
	data, err := l.fetch(ctx, target)
	if err != nil {
		return nil, &SourceNotFoundError{Ref: target, Err: err}
	}
	node, err := parseDocument(target, data)
	if err != nil {
		return nil, err
	}
	return &Source{ID: target, Base: urlBase(target), Remote: true, Data: node}, nil
}

func (l *HTTPLoader) fetch(ctx context.Context, target string) ([]byte, error) {
	if l.Offline {
		data, err := l.readCache(target)
		if err != nil {
			return nil, fmt.Errorf("offline and no cached copy: %w", err)
		}
		logging.Debug("using cached remote source", map[string]interface{}{"url": target})
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := l.writeCache(target, data); err != nil {
		logging.Warn("could not cache remote source", map[string]interface{}{"url": target, "error": err.Error()})
	}
	return data, nil
}

func (l *HTTPLoader) cachePath(target string) string {
	sum := blake3.Sum256([]byte(target))
	return filepath.Join(l.CacheDir, hex.EncodeToString(sum[:])+".yaml.zst")
}

var (
	cacheEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	cacheDecoder, _ = zstd.NewReader(nil)
)

func (l *HTTPLoader) writeCache(target string, data []byte) error {
	if l.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.CacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(l.cachePath(target), cacheEncoder.EncodeAll(data, nil), 0o644)
}

func (l *HTTPLoader) readCache(target string) ([]byte, error) {
	if l.CacheDir == "" {
		return nil, errors.New("no cache directory configured")
	}
	compressed, err := os.ReadFile(l.cachePath(target))
	if err != nil {
		return nil, err
	}
	data, err := cacheDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return data, nil
}

// MultiLoader dispatches to the HTTP loader for URLs and for relative
// references inside remote documents, and to the file loader otherwise.
type MultiLoader struct {
	File Loader
	HTTP Loader
}

func (m *MultiLoader) Load(ctx context.Context, ref, base string) (*Source, error) {
	if IsURL(ref) || IsURL(base) {
		if m.HTTP == nil {
			return nil, &SourceNotFoundError{Ref: ref, Err: errors.New("remote sources are disabled")}
		}
		return m.HTTP.Load(ctx, ref, base)
	}
	if m.File == nil {
		return FileLoader{}.Load(ctx, ref, base)
	}
	return m.File.Load(ctx, ref, base)
}
