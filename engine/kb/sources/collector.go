package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"

	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/dedup"
	"github.com/inquira/inquira/pkg/logger"
)

const (
	// DefaultMaxFileSize bounds a single collected document.
	DefaultMaxFileSize = 8 * 1024 * 1024
	defaultHTTPTimeout = 30 * time.Second
)

// Spec names one place to collect documents from. Exactly one field must
// be set.
type Spec struct {
	Glob string
	URL  string
}

// Options tunes collection behavior.
type Options struct {
	Root        string
	MaxFileSize int64
	HTTPTimeout time.Duration
}

// Collector resolves glob patterns and URLs into uploadable files,
// dropping intra-run content repeats.
type Collector struct {
	root    string
	maxSize int64
	client  *resty.Client
}

// NewCollector builds a collector rooted at opts.Root (the working
// directory by default).
func NewCollector(opts Options) *Collector {
	root := opts.Root
	if root == "" {
		root = "."
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Collector{
		root:    root,
		maxSize: maxSize,
		client:  resty.New().SetTimeout(timeout),
	}
}

// Collect resolves every spec and returns the deduplicated file list in
// stable spec order.
func (c *Collector) Collect(ctx context.Context, specs []Spec) ([]kb.UploadedFile, error) {
	if len(specs) == 0 {
		return nil, errors.New("sources: at least one source is required")
	}
	seen := make(map[string]struct{})
	files := make([]kb.UploadedFile, 0, len(specs))
	for i := range specs {
		spec := specs[i]
		switch {
		case spec.Glob != "" && spec.URL != "":
			return nil, fmt.Errorf("sources: source %d sets both glob and url", i)
		case spec.Glob != "":
			collected, err := c.collectGlob(ctx, spec.Glob, seen)
			if err != nil {
				return nil, err
			}
			files = append(files, collected...)
		case spec.URL != "":
			file, ok, err := c.collectURL(ctx, spec.URL, seen)
			if err != nil {
				return nil, err
			}
			if ok {
				files = append(files, file)
			}
		default:
			return nil, fmt.Errorf("sources: source %d is empty", i)
		}
	}
	if len(files) == 0 {
		return nil, errors.New("sources: no documents matched the configured sources")
	}
	return files, nil
}

func (c *Collector) collectGlob(ctx context.Context, pattern string, seen map[string]struct{}) ([]kb.UploadedFile, error) {
	if filepath.IsAbs(pattern) || strings.Contains(pattern, "..") {
		return nil, fmt.Errorf("sources: glob %q must stay inside the source root", pattern)
	}
	fsys := os.DirFS(c.root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("sources: invalid glob %q: %w", pattern, err)
	}
	log := logger.FromContext(ctx)
	files := make([]kb.UploadedFile, 0, len(matches))
	for _, match := range matches {
		info, err := fs.Stat(fsys, match)
		if err != nil {
			return nil, fmt.Errorf("sources: stat %q: %w", match, err)
		}
		if info.IsDir() {
			continue
		}
		if info.Size() > c.maxSize {
			log.Warn("Skipping oversized file", "path", match, "size", info.Size())
			continue
		}
		content, err := fs.ReadFile(fsys, match)
		if err != nil {
			return nil, fmt.Errorf("sources: read %q: %w", match, err)
		}
		hash := dedup.HashContent(string(content))
		if _, repeat := seen[hash]; repeat {
			continue
		}
		seen[hash] = struct{}{}
		files = append(files, kb.UploadedFile{
			Name:         match,
			Size:         info.Size(),
			Content:      content,
			LastModified: info.ModTime(),
			ContentHash:  hash,
		})
	}
	return files, nil
}

func (c *Collector) collectURL(ctx context.Context, rawURL string, seen map[string]struct{}) (kb.UploadedFile, bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return kb.UploadedFile{}, false, fmt.Errorf("sources: unsupported url %q", rawURL)
	}
	resp, err := c.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(rawURL)
	if err != nil {
		return kb.UploadedFile{}, false, fmt.Errorf("sources: fetch %q: %w", rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return kb.UploadedFile{}, false, fmt.Errorf("sources: fetch %q: status %s", rawURL, resp.Status())
	}
	contentType := normalizeContentType(resp.Header().Get("Content-Type"))
	content, err := readBody(body, contentType, c.maxSize)
	if err != nil {
		return kb.UploadedFile{}, false, fmt.Errorf("sources: fetch %q: %w", rawURL, err)
	}
	hash := dedup.HashContent(string(content))
	if _, repeat := seen[hash]; repeat {
		return kb.UploadedFile{}, false, nil
	}
	seen[hash] = struct{}{}
	return kb.UploadedFile{
		Name:        filenameFromURL(parsed),
		Size:        int64(len(content)),
		MediaType:   contentType,
		Content:     content,
		ContentHash: hash,
	}, true, nil
}

// readBody enforces the size cap and transcodes declared text charsets to
// UTF-8.
func readBody(body io.Reader, contentType string, maxSize int64) ([]byte, error) {
	limited := io.LimitReader(body, maxSize+1)
	reader := limited
	if strings.HasPrefix(contentType, "text/") || strings.HasSuffix(contentType, "+json") ||
		contentType == "application/json" {
		decoded, err := charset.NewReader(limited, contentType)
		if err == nil {
			reader = decoded
		}
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > maxSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxSize)
	}
	return content, nil
}

func normalizeContentType(raw string) string {
	if i := strings.Index(raw, ";"); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func filenameFromURL(parsed *url.URL) string {
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return parsed.Host
	}
	return name
}
