package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tavernfall/loreweave-backend/internal/platform/envutil"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
)

// Client is the slice of the model API the note pipeline uses: embeddings
// for the vector projection and candidate retrieval, and structured JSON
// generation for extraction and merge adjudication. The purpose tag names
// the pipeline stage so usage accounting can be attributed.
type Client interface {
	Embed(ctx context.Context, purpose string, inputs []string) ([][]float32, error)
	GenerateJSON(ctx context.Context, purpose, system, user, schemaName string, schema map[string]any) (json.RawMessage, error)
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ModelCall is the observability record for one round-trip. The client
// forwards it to the recorder; it never aggregates or interprets usage.
type ModelCall struct {
	Kind      string // "embed" or "generate_json"
	Model     string
	Purpose   string
	Usage     Usage
	Latency   time.Duration
	ErrorText string
}

type CallRecorder interface {
	RecordModelCall(ctx context.Context, call ModelCall)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	http       *http.Client
	recorder   CallRecorder
}

func NewClient(log *logger.Logger, recorder CallRecorder) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := envutil.String("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	timeoutSec := envutil.BoundedInt("OPENAI_TIMEOUT_SECONDS", 1, 600, 60)
	c := &client{
		log:        log.With("client", "OpenAI"),
		baseURL:    strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		apiKey:     apiKey,
		model:      envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		embedModel: envutil.String("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		http:       &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		recorder:   recorder,
	}
	return c, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http status=%d body=%s", e.StatusCode, e.Body)
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *client) Embed(ctx context.Context, purpose string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean}

	started := time.Now()
	var resp embeddingsResponse
	err := c.do(ctx, http.MethodPost, "/v1/embeddings", req, &resp)
	c.record(ctx, ModelCall{
		Kind:    "embed",
		Model:   c.embedModel,
		Purpose: purpose,
		Usage: Usage{
			InputTokens: resp.Usage.PromptTokens,
			TotalTokens: resp.Usage.TotalTokens,
		},
		Latency:   time.Since(started),
		ErrorText: errText(err),
	})
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf(
				"openai embeddings missing index %d: requested=%d returned=%d model=%s",
				i, len(clean), len(resp.Data), c.embedModel,
			)
		}
	}
	return out, nil
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

// GenerateJSON returns the raw model output text. Callers own strict schema
// parsing: an output that fails their schema is an extraction error, never
// an implicit empty result.
func (c *client) GenerateJSON(ctx context.Context, purpose, system, user, schemaName string, schema map[string]any) (json.RawMessage, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	started := time.Now()
	var resp responsesResponse
	err := c.do(ctx, http.MethodPost, "/v1/responses", req, &resp)
	c.record(ctx, ModelCall{
		Kind:    "generate_json",
		Model:   c.model,
		Purpose: purpose,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Latency:   time.Since(started),
		ErrorText: errText(err),
	})
	if err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}

	jsonText := strings.TrimSpace(extractOutputText(resp))
	if jsonText == "" {
		return nil, fmt.Errorf("no output_text found in response")
	}
	return json.RawMessage(jsonText), nil
}

func (c *client) do(ctx context.Context, method, path string, in any, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		lastErr = c.doOnce(ctx, method, path, in, out)
		if lastErr == nil {
			return nil
		}
		var httpErr *openAIHTTPError
		if errors.As(lastErr, &httpErr) {
			if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
				continue
			}
			return lastErr
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}
	return lastErr
}

func (c *client) doOnce(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return err
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &openAIHTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 1024)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *client) record(ctx context.Context, call ModelCall) {
	if c.recorder != nil {
		c.recorder.RecordModelCall(ctx, call)
	}
	c.log.Debug("model call",
		"kind", call.Kind,
		"model", call.Model,
		"purpose", call.Purpose,
		"total_tokens", call.Usage.TotalTokens,
		"latency_ms", call.Latency.Milliseconds(),
		"error", call.ErrorText,
	)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
