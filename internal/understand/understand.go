// Package understand asks the content-understanding service to classify or
// extract a news link. Two providers are supported: Dify chat apps and the
// Anthropic Messages API.
package understand

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/config"
	"github.com/sells-group/news-pipeline/internal/resilience"
	"github.com/sells-group/news-pipeline/pkg/anthropic"
	"github.com/sells-group/news-pipeline/pkg/dify"
)

// App names an understanding application.
type App string

const (
	AppClassify App = "classify"
	AppExtract  App = "extract"
)

// Reply is the raw text answer of one call.
type Reply struct {
	Text     string
	Provider string
	Tokens   int64
	Elapsed  time.Duration
}

// Client asks an understanding app a single question.
type Client interface {
	Ask(ctx context.Context, app App, prompt string) (*Reply, error)
}

// DefaultCallTimeout bounds a single call when none is configured.
const DefaultCallTimeout = 120 * time.Second

// New builds the configured provider. callTimeout bounds every Ask.
func New(cfg config.UnderstandConfig, callTimeout time.Duration) (Client, error) {
	switch cfg.Provider {
	case "dify", "":
		client := dify.NewClient(dify.WithBaseURL(cfg.Dify.BaseURL), dify.WithUser(cfg.Dify.User))
		return NewDify(client, map[App]string{
			AppClassify: cfg.Classify.Key,
			AppExtract:  cfg.Extract.Key,
		}, callTimeout), nil
	case "anthropic":
		client := anthropic.NewClient(cfg.Anthropic.Key)
		return NewAnthropic(client, cfg.Anthropic.Model, map[App]config.AppConfig{
			AppClassify: cfg.Classify,
			AppExtract:  cfg.Extract,
		}, callTimeout), nil
	default:
		return nil, eris.Errorf("understand: unsupported provider %q", cfg.Provider)
	}
}

// withCallTimeout derives the per-call context.
func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, d)
}

// classifyCallError tags a provider error with its taxonomy. Any non-success
// HTTP status and deadline expiry become TransientService, so the retry
// controller treats them alike. The status is kept for rate-limit detection.
// Errors without a status or a timeout are left untagged.
func classifyCallError(err error, status int) error {
	if err == nil {
		return nil
	}
	if status != 0 && (status < 200 || status > 299) {
		return resilience.NewTransientError(err, status)
	}
	if resilience.IsTransient(err) {
		return resilience.Tag(resilience.TransientService, err)
	}
	return err
}

func emptyReply(app App) error {
	return resilience.Malformed(eris.Errorf("understand: empty reply from %s app", app))
}

func trimmed(s string) string { return strings.TrimSpace(s) }
