package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/yungbote/brains-backend/internal/platform/logger"
)

func TestSplitModel(t *testing.T) {
	cases := []struct {
		in           string
		wantProvider string
		wantModel    string
	}{
		{"openai:gpt-5.1", "openai", "gpt-5.1"},
		{"groq:llama-3.3-70b-versatile", "groq", "llama-3.3-70b-versatile"},
		{"xai:grok-3", "xai", "grok-3"},
		{"gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"unknown:model", "openai", "unknown:model"},
	}
	for _, tc := range cases {
		p, m := splitModel(tc.in)
		if p != tc.wantProvider || m != tc.wantModel {
			t.Fatalf("splitModel(%q): want=(%q,%q) got=(%q,%q)", tc.in, tc.wantProvider, tc.wantModel, p, m)
		}
	}
}

func TestChatMessagesRoutesByPrefix(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	var gotURL string
	var gotAuth string
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		gotURL = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(t, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  hello  "}},
			},
		}), nil
	})

	out, err := c.Chat(context.Background(), "sys", "hi", "groq:llama-3.3-70b-versatile")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "hello" {
		t.Fatalf("output: want=%q got=%q", "hello", out)
	}
	if gotURL != "https://api.groq.com/openai/v1/chat/completions" {
		t.Fatalf("url: got=%q", gotURL)
	}
	if gotAuth != "Bearer gsk-test" {
		t.Fatalf("auth: got=%q", gotAuth)
	}
	if captured["model"] != "llama-3.3-70b-versatile" {
		t.Fatalf("model: got=%v", captured["model"])
	}
}

func TestChatMessagesOptsSampling(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(t, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "CORRECTION"}},
			},
		}), nil
	})

	_, err := c.ChatMessagesOpts(context.Background(), []Message{
		{Role: "user", Content: "classify"},
	}, "gpt-4o-mini", 1, 0)
	if err != nil {
		t.Fatalf("ChatMessagesOpts: %v", err)
	}
	if captured["max_tokens"] != float64(1) {
		t.Fatalf("max_tokens: got=%v", captured["max_tokens"])
	}
	if captured["temperature"] != float64(0) {
		t.Fatalf("temperature: got=%v", captured["temperature"])
	}
}

func TestChatMissingProviderKey(t *testing.T) {
	t.Setenv("XAI_API_KEY", "")
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request: %s", r.URL)
		return nil, nil
	})
	_, err := c.Chat(context.Background(), "", "hi", "xai:grok-3")
	if err == nil {
		t.Fatalf("expected error for missing XAI_API_KEY")
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		return jsonResponse(t, map[string]any{
			"data": []map[string]any{
				{"embedding": []float64{3, 3}, "index": 1},
				{"embedding": []float64{1, 1}, "index": 0},
			},
		}), nil
	})

	out, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("length: want=2 got=%d", len(out))
	}
	if out[0][0] != 1 || out[1][0] != 3 {
		t.Fatalf("index ordering wrong: got=%v", out)
	}
}

func TestSpeechClampsSpeed(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader([]byte("mp3-bytes"))),
		}, nil
	})

	audio, err := c.Speech(context.Background(), SpeechRequest{Text: "hello", Speed: 9.5})
	if err != nil {
		t.Fatalf("Speech: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("audio bytes: got=%q", string(audio))
	}
	if captured["speed"] != float64(4.0) {
		t.Fatalf("speed clamp: want=4 got=%v", captured["speed"])
	}
}

func newTestClient(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *client {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return &client{
		log:        log.With("service", "ModelClient"),
		model:      "openai:gpt-5.1",
		embedModel: "text-embedding-3-small",
		httpClient: &http.Client{Transport: roundTripFunc(roundTrip)},
		maxRetries: 0,
		endpoints:  map[string]endpoint{},
	}
}

func jsonResponse(t *testing.T, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
