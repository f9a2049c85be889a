package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/brains-backend/internal/platform/ctxutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SpeechRequest is the input to the speech synthesis endpoint.
type SpeechRequest struct {
	Text         string
	Voice        string
	Model        string
	Speed        float64
	Instructions string
}

// Client is the model-provider client used by the rest of the backend. Chat
// models may carry a "provider:" prefix (e.g. "groq:llama-3.3-70b") which
// routes the call to that provider's OpenAI-compatible endpoint.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Chat sends a system+user pair. Empty model uses the configured default.
	Chat(ctx context.Context, system string, user string, model string) (string, error)

	// ChatMessages sends a full message list (system prompt, replayed thread
	// context, current user turn).
	ChatMessages(ctx context.Context, msgs []Message, model string) (string, error)

	// ChatMessagesOpts is ChatMessages with sampling overrides; maxTokens<=0
	// and temperature<0 mean "provider default".
	ChatMessagesOpts(ctx context.Context, msgs []Message, model string, maxTokens int, temperature float64) (string, error)

	// Speech synthesizes audio (mp3 bytes) from text.
	Speech(ctx context.Context, req SpeechRequest) ([]byte, error)

	DefaultModel() string
}

type provider struct {
	baseURL string
	keyEnv  string
}

// OpenAI-compatible providers, addressed by model prefix.
var providers = map[string]provider{
	"openai":     {baseURL: "https://api.openai.com/v1", keyEnv: "OPENAI_API_KEY"},
	"xai":        {baseURL: "https://api.x.ai/v1", keyEnv: "XAI_API_KEY"},
	"groq":       {baseURL: "https://api.groq.com/openai/v1", keyEnv: "GROQ_API_KEY"},
	"together":   {baseURL: "https://api.together.xyz/v1", keyEnv: "TOGETHER_API_KEY"},
	"fireworks":  {baseURL: "https://api.fireworks.ai/inference/v1", keyEnv: "FIREWORKS_API_KEY"},
	"openrouter": {baseURL: "https://openrouter.ai/api/v1", keyEnv: "OPENROUTER_API_KEY"},
	"perplexity": {baseURL: "https://api.perplexity.ai", keyEnv: "PERPLEXITY_API_KEY"},
	"deepseek":   {baseURL: "https://api.deepseek.com", keyEnv: "DEEPSEEK_API_KEY"},
}

type endpoint struct {
	baseURL string
	apiKey  string
}

type client struct {
	log        *logger.Logger
	model      string
	embedModel string
	httpClient *http.Client
	maxRetries int

	mu        sync.Mutex
	endpoints map[string]endpoint
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	model := strings.TrimSpace(os.Getenv("CHAT_MODEL"))
	if model == "" {
		model = "openai:gpt-5.1"
	}

	embed := strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	if embed == "" {
		embed = "text-embedding-3-small"
	}

	timeoutSec := 120
	if v := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := strings.TrimSpace(os.Getenv("OPENAI_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "ModelClient"),
		model:      model,
		embedModel: embed,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
		endpoints:  map[string]endpoint{},
	}, nil
}

func (c *client) DefaultModel() string { return c.model }

// splitModel resolves "provider:model" into the provider name and bare model.
// A bare model (no recognized prefix) routes to openai.
func splitModel(model string) (string, string) {
	model = strings.TrimSpace(model)
	if i := strings.Index(model, ":"); i > 0 {
		prefix := strings.ToLower(strings.TrimSpace(model[:i]))
		if _, ok := providers[prefix]; ok {
			return prefix, strings.TrimSpace(model[i+1:])
		}
	}
	return "openai", model
}

func (c *client) endpointFor(name string) (endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.endpoints[name]; ok {
		return ep, nil
	}

	p, ok := providers[name]
	if !ok {
		return endpoint{}, fmt.Errorf("unknown model provider %q", name)
	}

	baseURL := p.baseURL
	if name == "openai" {
		if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
			baseURL = strings.TrimRight(v, "/")
			if !strings.HasSuffix(baseURL, "/v1") {
				baseURL += "/v1"
			}
		}
	}

	key := strings.TrimSpace(os.Getenv(p.keyEnv))
	if key == "" {
		return endpoint{}, fmt.Errorf("missing %s for provider %q", p.keyEnv, name)
	}

	ep := endpoint{baseURL: baseURL, apiKey: key}
	c.endpoints[name] = ep
	return ep, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("provider http %d: %s", e.StatusCode, e.Body)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *client) doJSON(ctx context.Context, ep endpoint, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}

		callCtx, cancel := ctxutil.Default(ctx)
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, ep.baseURL+path, &buf)
		if err != nil {
			cancel()
			return err
		}
		req.Header.Set("Authorization", "Bearer "+ep.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()
			if attempt < c.maxRetries {
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			return err
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			callErr := &httpError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
			if retryableStatus(resp.StatusCode) && attempt < c.maxRetries {
				c.log.Warn("provider request retrying",
					"path", path,
					"attempt", attempt+1,
					"status", resp.StatusCode,
				)
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			return callErr
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("provider decode error: %w", err)
		}
		return nil
	}
	return errors.New("unreachable retry loop")
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
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

	ep, err := c.endpointFor("openai")
	if err != nil {
		return nil, err
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean}
	var resp embeddingsResponse
	if err := c.doJSON(ctx, ep, "/embeddings", req, &resp); err != nil {
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
			return nil, fmt.Errorf("embeddings missing index %d: requested=%d returned=%d model=%s",
				i, len(clean), len(resp.Data), c.embedModel)
		}
	}
	return out, nil
}

// -------------------- Chat completions --------------------

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *client) Chat(ctx context.Context, system string, user string, model string) (string, error) {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: user})
	return c.ChatMessages(ctx, msgs, model)
}

func (c *client) ChatMessages(ctx context.Context, msgs []Message, model string) (string, error) {
	return c.ChatMessagesOpts(ctx, msgs, model, 0, -1)
}

func (c *client) ChatMessagesOpts(ctx context.Context, msgs []Message, model string, maxTokens int, temperature float64) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("messages required")
	}
	if strings.TrimSpace(model) == "" {
		model = c.model
	}
	providerName, bareModel := splitModel(model)
	ep, err := c.endpointFor(providerName)
	if err != nil {
		return "", err
	}

	req := chatRequest{Model: bareModel, Messages: msgs}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	if temperature >= 0 {
		req.Temperature = &temperature
	}

	var resp chatResponse
	if err := c.doJSON(ctx, ep, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// -------------------- Speech --------------------

func (c *client) Speech(ctx context.Context, in SpeechRequest) ([]byte, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, errors.New("speech text required")
	}

	ep, err := c.endpointFor("openai")
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	voice := strings.TrimSpace(in.Voice)
	if voice == "" {
		voice = "alloy"
	}
	speed := in.Speed
	if speed < 0.25 {
		speed = 0.25
	}
	if speed > 4.0 {
		speed = 4.0
	}

	body := map[string]any{
		"model":           model,
		"voice":           voice,
		"input":           text,
		"speed":           speed,
		"response_format": "mp3",
	}
	if instr := strings.TrimSpace(in.Instructions); instr != "" && strings.Contains(model, "tts") {
		body["instructions"] = instr
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	callCtx, cancel := ctxutil.Default(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, ep.baseURL+"/audio/speech", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ep.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return raw, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
