package understand

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/pkg/dify"
)

// DifyProvider sends prompts to Dify chat apps, one API key per app.
type DifyProvider struct {
	client  dify.Client
	keys    map[App]string
	timeout time.Duration
}

var _ Client = (*DifyProvider)(nil)

// NewDify creates a DifyProvider.
func NewDify(client dify.Client, keys map[App]string, timeout time.Duration) *DifyProvider {
	return &DifyProvider{client: client, keys: keys, timeout: timeout}
}

// Ask sends prompt as the chat query of the app and returns the answer.
func (p *DifyProvider) Ask(ctx context.Context, app App, prompt string) (*Reply, error) {
	key, ok := p.keys[app]
	if !ok || key == "" {
		return nil, eris.Errorf("understand: no dify key for app %q", app)
	}

	ctx, cancel := withCallTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.ChatMessage(ctx, key, dify.ChatRequest{Query: prompt})
	elapsed := time.Since(start)
	if err != nil {
		status := 0
		var apiErr *dify.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, classifyCallError(eris.Wrapf(err, "understand: dify %s", app), status)
	}

	zap.L().Debug("understand: dify reply",
		zap.String("app", string(app)),
		zap.Int("tokens", resp.Metadata.Usage.TotalTokens),
		zap.Duration("elapsed", elapsed),
	)

	if trimmed(resp.Answer) == "" {
		return nil, emptyReply(app)
	}
	return &Reply{
		Text:     resp.Answer,
		Provider: "dify",
		Tokens:   int64(resp.Metadata.Usage.TotalTokens),
		Elapsed:  elapsed,
	}, nil
}
