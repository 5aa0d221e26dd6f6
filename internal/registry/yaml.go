package registry

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/news-pipeline/internal/model"
)

type yamlEntry struct {
	Link   string `yaml:"link"`
	URL    string `yaml:"url"`
	Source string `yaml:"source"`
	Note   string `yaml:"note"`
	Active *bool  `yaml:"active"`
}

// ReadYAML reads homepages from either a top-level list or a document with
// a homepages key. Entries without an active flag are active.
func ReadYAML(path string) ([]model.Homepage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read yaml")
	}
	return ParseYAML(data)
}

// ParseYAML decodes registry entries from data.
func ParseYAML(data []byte) ([]model.Homepage, error) {
	var entries []yamlEntry
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-")) {
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, eris.Wrap(err, "registry: parse yaml list")
		}
	} else {
		var doc struct {
			Homepages []yamlEntry `yaml:"homepages"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "registry: parse yaml")
		}
		entries = doc.Homepages
	}

	out := make([]model.Homepage, 0, len(entries))
	for _, e := range entries {
		link := e.Link
		if link == "" {
			link = e.URL
		}
		h := model.Homepage{URL: link, Source: e.Source, Note: e.Note, Active: true}
		if e.Active != nil {
			h.Active = *e.Active
		}
		out = append(out, h)
	}
	return out, nil
}
