// Package planner wraps the external language model call that turns a
// free-text question into a candidate query plan. The model output is never
// trusted: it is strictly decoded here and fully validated downstream.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
)

// Config holds the model endpoint parameters.
type Config struct {
	// BaseURL is an Ollama-compatible chat endpoint, e.g. http://localhost:11434.
	BaseURL string
	Model   string
	// Timeout bounds one generation call. Shorter than the query timeout;
	// same hard-cancel semantics.
	Timeout time.Duration
}

// Client calls the model's chat endpoint in JSON mode.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a planner client. A zero timeout falls back to 90s.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Format   string        `json:"format"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// GeneratePlan asks the model for a JSON plan for the question, with the
// catalog as context. Failures — unreachable endpoint, timeout, non-JSON
// output — surface as PlanGenerationError. No automatic retries.
func (c *Client) GeneratePlan(ctx context.Context, question string, cat *catalog.Catalog, limit int) (domain.RawPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(cat, limit)},
			{Role: "user", Content: question},
		},
		Format: "json",
		Stream: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.RawPlan{}, domain.ErrPlanGeneration("encode chat request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return domain.RawPlan{}, domain.ErrPlanGeneration("build chat request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return domain.RawPlan{}, domain.ErrPlanGeneration("model call timed out after %s", c.cfg.Timeout)
		}
		return domain.RawPlan{}, domain.ErrPlanGeneration("model unreachable: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.RawPlan{}, domain.ErrPlanGeneration("read model response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RawPlan{}, domain.ErrPlanGeneration("model returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return domain.RawPlan{}, domain.ErrPlanGeneration("unparseable chat response: %v", err)
	}
	if chat.Error != "" {
		return domain.RawPlan{}, domain.ErrPlanGeneration("model error: %s", chat.Error)
	}

	var plan domain.RawPlan
	if err := json.Unmarshal([]byte(chat.Message.Content), &plan); err != nil {
		return domain.RawPlan{}, domain.ErrPlanGeneration(
			"model output is not a valid plan: %v (content: %s)", err, truncate(chat.Message.Content, 200))
	}

	c.logger.Debug("plan generated",
		"model", c.cfg.Model,
		"duration", time.Since(start),
		"metrics", len(plan.Metrics),
		"dimensions", len(plan.Dimensions),
	)
	return plan, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// systemPrompt builds the planning instructions with the allow-listed
// catalog inlined, so the model only sees valid names.
func systemPrompt(cat *catalog.Catalog, limit int) string {
	var b strings.Builder
	b.WriteString("You are a data query planner. Convert the user question into a JSON plan.\n\n")
	b.WriteString("Output ONLY valid JSON with this schema:\n")
	fmt.Fprintf(&b, `{
  "metrics": ["..."],
  "dimensions": ["..."],
  "start_time": null or "YYYY-MM-DD",
  "end_time": null or "YYYY-MM-DD",
  "filters": [{"dimension":"...","op":"="|"!="|"<"|"<="|">"|">="|"IN","value":"..."|["..."]}],
  "time_granularity": null or "day"|"week"|"month"|"year",
  "limit": %d
}`, limit)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Do NOT output SQL.\n")
	fmt.Fprintf(&b, "- Use only these metrics: %s\n", strings.Join(cat.MetricNames(), ", "))
	fmt.Fprintf(&b, "- Use only these dimensions: %s\n", strings.Join(cat.DimensionNames(), ", "))
	b.WriteString("- Keep dimensions minimal.\n")
	b.WriteString("- If the user asks for time filtering, use start_time/end_time with ISO dates.\n")
	b.WriteString("- Range operators (<, <=, >, >=) are only valid on time dimensions.\n")
	return b.String()
}
