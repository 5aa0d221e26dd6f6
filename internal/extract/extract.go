// Package extract turns free-text understanding-service replies into
// normalized structured results.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
)

// Article is the normalized result of an extraction reply.
type Article struct {
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	EventTags    []string `json:"event_tags"`
	SpaceTags    []string `json:"space_tags"`
	CategoryTags []string `json:"cat_tags"`
	ImpactTags   []string `json:"impact_factors"`
	PublishTime  string   `json:"publish_time"`
	Importance   string   `json:"importance"`
	State        []string `json:"state"`
}

// IsEmpty reports whether the article carries neither a title nor content.
// Callers treat an empty article as a semantic failure.
func (a *Article) IsEmpty() bool {
	return a == nil || (strings.TrimSpace(a.Title) == "" && strings.TrimSpace(a.Content) == "")
}

// ExtractJSON parses the substring between the first '{' and the last '}' of
// text. Any failure is tagged MalformedResponse.
func ExtractJSON(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, resilience.Malformed(eris.New("extract: no JSON object in reply"))
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, resilience.Malformed(eris.Wrap(err, "extract: parse JSON object"))
	}
	return obj, nil
}

// ParseArticle extracts and normalizes an Article from a raw reply. An
// article with neither title nor content is returned together with a
// SemanticFailure error.
func ParseArticle(text string, now time.Time) (*Article, error) {
	obj, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	a := Article{
		Title:        stringField(obj, "title"),
		Content:      stringField(obj, "content"),
		EventTags:    listField(obj, "event_tags"),
		SpaceTags:    listField(obj, "space_tags"),
		CategoryTags: listField(obj, "cat_tags", "category_tags"),
		ImpactTags:   listField(obj, "impact_factors", "impact_tags"),
		PublishTime:  stringField(obj, "publish_time"),
		Importance:   stringField(obj, "importance"),
		State:        listField(obj, "state"),
	}
	a = a.Normalize(now)
	if a.IsEmpty() {
		return &a, resilience.Semantic(eris.New("extract: reply has empty title and content"))
	}
	return &a, nil
}

// Normalize strips control characters from every string, re-escapes newlines
// in the body, and fills defaults. Normalize(Normalize(a)) equals Normalize(a).
func (a Article) Normalize(now time.Time) Article {
	return Article{
		Title:        cleanLine(a.Title),
		Content:      cleanBody(a.Content),
		EventTags:    cleanList(a.EventTags),
		SpaceTags:    cleanList(a.SpaceTags),
		CategoryTags: cleanList(a.CategoryTags),
		ImpactTags:   cleanList(a.ImpactTags),
		PublishTime:  model.NormalizePublishTime(cleanLine(a.PublishTime), now),
		Importance:   string(model.ParseImportance(cleanLine(a.Importance))),
		State:        cleanList(a.State),
	}
}

// cleanLine NFC-normalizes s, turns whitespace control characters into
// spaces, drops other control characters and trims.
func cleanLine(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, s)
	return strings.TrimSpace(s)
}

var newlineEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`)

// cleanBody keeps line structure as literal "\n" sequences so the body is a
// single line of text.
func cleanBody(s string) string {
	s = newlineEscaper.Replace(norm.NFC.String(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, s)
	return strings.TrimSpace(s)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if c := cleanLine(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// listField reads the first present key as a list of strings. A bare string
// becomes a one-element list.
func listField(obj map[string]any, keys ...string) []string {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if v == "" {
				return nil
			}
			return []string{v}
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				} else if item != nil {
					b, _ := json.Marshal(item)
					out = append(out, string(b))
				}
			}
			return out
		}
		return nil
	}
	return nil
}
