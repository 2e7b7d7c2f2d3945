package actions

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/wilhg/sigil/pkg/agent"
)

// HTTPGet performs an HTTP GET and returns status and body. Long fetches
// belong in a Spawn directive; this action is for quick lookups.
type HTTPGet struct {
	// Client overrides the default client, mainly for tests.
	Client *http.Client
}

func (HTTPGet) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "http.get",
		Description: "Performs an HTTP GET request",
		ParamSchema: []byte(`{"type":"object","properties":{"url":{"type":"string","format":"uri"},"timeout_ms":{"type":"integer","minimum":1,"maximum":60000}},"required":["url"],"additionalProperties":false}`),
	}
}

func (h HTTPGet) Run(ctx context.Context, params map[string]any, _ agent.ActionContext) (map[string]any, []agent.Effect, error) {
	url, _ := params["url"].(string)
	to := 10000
	if v, ok := numberOf(params["timeout_ms"]); ok && v > 0 {
		to = int(v)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: time.Duration(to) * time.Millisecond}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = res.Body.Close() }()
	b, _ := io.ReadAll(res.Body)
	return map[string]any{"status": res.StatusCode, "body": string(b)}, nil, nil
}
