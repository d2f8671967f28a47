package predict

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"fintrack/internal/core"
)

func TestOpenAI_Generate(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": validOutput},
			}},
		})
	}))
	defer srv.Close()

	gen := NewOpenAI("test-key", srv.URL+"/v1", "")
	out, err := gen.Generate(context.Background(), "predict please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != validOutput {
		t.Errorf("unexpected output %q", out)
	}
	if gotBody["model"] != DefaultOpenAIModel {
		t.Errorf("unexpected model %v", gotBody["model"])
	}
	rf, _ := gotBody["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", gotBody["response_format"])
	}
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer srv.Close()

	gen := NewOpenAI("k", srv.URL+"/v1", "m")
	if _, err := gen.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGemini_Generate(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": validOutput}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	defer srv.Close()

	gen, err := NewGemini(context.Background(), "test-key", "", srv.URL)
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	out, err := gen.Generate(context.Background(), "predict please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != validOutput {
		t.Errorf("unexpected output %q", out)
	}
	for _, want := range []string{"predict please", "application/json", "BLOCK_ONLY_HIGH"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestGenerateConfig(t *testing.T) {
	cfg := generateConfig()
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("unexpected mime type %q", cfg.ResponseMIMEType)
	}
	if len(cfg.SafetySettings) != 2 {
		t.Fatalf("expected 2 safety settings, got %d", len(cfg.SafetySettings))
	}
	for _, s := range cfg.SafetySettings {
		if s.Threshold != genai.HarmBlockThresholdBlockOnlyHigh {
			t.Errorf("unexpected threshold %v", s.Threshold)
		}
	}

	enum := cfg.ResponseSchema.Properties["predictedExpenses"].Items.Properties["category"].Enum
	if len(enum) != len(core.ExpenseCategories()) {
		t.Errorf("expected %d categories, got %d", len(core.ExpenseCategories()), len(enum))
	}
	for _, c := range enum {
		if c == string(core.FundsAdded) {
			t.Error("schema must not allow the income category")
		}
	}
}
