package understand

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/config"
	"github.com/sells-group/news-pipeline/pkg/anthropic"
)

const (
	defaultClassifySystem = `You review links found on news homepages. Reply with a single JSON object:
{"need_crawl": bool, "confidence": number between 0 and 1, "reason": string}.
need_crawl is true only for a single news article page, false for section fronts, tag pages, video hubs and ads.`

	defaultExtractSystem = `You extract news articles. Reply with a single JSON object:
{"title": string, "content": string, "publish_time": "YYYY-MM-DD HH:MM:SS", "importance": "high"|"medium"|"low",
"event_tags": [string], "space_tags": [string], "cat_tags": [string], "impact_factors": [string]}.
Use empty strings and empty lists for anything the page does not state.`
)

// AnthropicProvider answers prompts with the Messages API. Each app has its
// own model and system prompt; the system prompt is cached between calls.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	apps         map[App]config.AppConfig
	timeout      time.Duration
}

var _ Client = (*AnthropicProvider)(nil)

// NewAnthropic creates an AnthropicProvider.
func NewAnthropic(client anthropic.Client, defaultModel string, apps map[App]config.AppConfig, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{client: client, defaultModel: defaultModel, apps: apps, timeout: timeout}
}

func (p *AnthropicProvider) request(app App, prompt string) anthropic.MessageRequest {
	cfg := p.apps[app]

	model := cfg.Model
	if model == "" {
		model = p.defaultModel
	}
	system := cfg.System
	if system == "" {
		switch app {
		case AppClassify:
			system = defaultClassifySystem
		case AppExtract:
			system = defaultExtractSystem
		}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	temp := 0.0
	return anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system, "5m"),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	}
}

// Ask sends prompt as the user turn and returns the concatenated text reply.
func (p *AnthropicProvider) Ask(ctx context.Context, app App, prompt string) (*Reply, error) {
	if _, ok := p.apps[app]; !ok {
		return nil, eris.Errorf("understand: unknown app %q", app)
	}
	req := p.request(app, prompt)

	ctx, cancel := withCallTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateMessage(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyCallError(eris.Wrapf(err, "understand: anthropic %s", app), anthropic.StatusCode(err))
	}
	resp.Usage.LogCost(req.Model, string(app))

	text := resp.Text()
	if trimmed(text) == "" {
		return nil, emptyReply(app)
	}
	return &Reply{
		Text:     text,
		Provider: "anthropic",
		Tokens:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Elapsed:  elapsed,
	}, nil
}
