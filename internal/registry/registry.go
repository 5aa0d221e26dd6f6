// Package registry loads the homepage registry from spreadsheets and YAML
// files and writes it to the store.
package registry

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/model"
)

// Upserter writes homepages to the registry table.
type Upserter interface {
	UpsertHomepages(ctx context.Context, homepages []model.Homepage) (int, error)
}

// Load reads homepages from path, choosing the parser by extension.
func Load(path string, opts XLSXOptions) ([]model.Homepage, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".yaml", ".yml":
		return ReadYAML(path)
	default:
		return nil, eris.Errorf("registry: unsupported file type %q", filepath.Ext(path))
	}
}

// Import normalizes homepages, drops invalid and duplicate entries, and
// upserts the rest. It returns the number of rows written.
func Import(ctx context.Context, st Upserter, homepages []model.Homepage) (int, error) {
	clean := Normalize(homepages)
	if len(clean) == 0 {
		return 0, nil
	}
	n, err := st.UpsertHomepages(ctx, clean)
	if err != nil {
		return 0, eris.Wrap(err, "registry: upsert homepages")
	}
	zap.L().Info("homepage registry imported",
		zap.Int("read", len(homepages)),
		zap.Int("written", n),
	)
	return n, nil
}

// Normalize trims fields, keeps only absolute http(s) URLs, and keeps the
// last entry for a repeated URL so later rows override earlier ones.
func Normalize(homepages []model.Homepage) []model.Homepage {
	index := make(map[string]int, len(homepages))
	out := make([]model.Homepage, 0, len(homepages))
	for _, h := range homepages {
		h.URL = strings.TrimSpace(h.URL)
		h.Source = strings.TrimSpace(h.Source)
		h.Note = strings.TrimSpace(h.Note)
		if !validURL(h.URL) {
			if h.URL != "" {
				zap.L().Warn("registry: skipping invalid homepage", zap.String("link", h.URL))
			}
			continue
		}
		if i, ok := index[h.URL]; ok {
			out[i] = h
			continue
		}
		index[h.URL] = len(out)
		out = append(out, h)
	}
	return out
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// parseActive reads a yes/no style flag; blank means active.
func parseActive(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "no", "false", "0", "inactive", "off":
		return false
	default:
		return true
	}
}
