package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gkirna/scribeflow/internal/transcript"
)

func TestBuildSystemPrompt(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		keywords []string
		contains []string
	}{
		{
			name:     "plain",
			contains: []string{`"speakers"`, `"entities"`, `"sentiment"`, `"urgency"`, "unknown"},
		},
		{
			name:     "with domain",
			domain:   "clinical consultation",
			contains: []string{"clinical consultation"},
		},
		{
			name:     "with keywords",
			keywords: []string{"ibuprofen", "Kubernetes"},
			contains: []string{"ibuprofen", "Kubernetes", "Context keywords"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prompt := BuildSystemPrompt(tc.domain, tc.keywords)
			for _, s := range tc.contains {
				if !strings.Contains(prompt, s) {
					t.Errorf("prompt should contain %q, got:\n%s", s, prompt)
				}
			}
		})
	}
}

func TestBuildUserPrompt(t *testing.T) {
	segs := []transcript.Segment{
		{SpeakerID: 0, Start: 0, End: 1.5, Text: "How are you feeling"},
		{SpeakerID: 1, Start: 1.6, End: 3, Text: "I have a fever"},
	}

	got := BuildUserPrompt(segs, "")
	want := "[0.0-1.5] Speaker 0: How are you feeling\n[1.6-3.0] Speaker 1: I have a fever\n"
	if got != want {
		t.Errorf("BuildUserPrompt() = %q, want %q", got, want)
	}

	custom := BuildUserPrompt(segs, "Focus on symptoms.")
	if !strings.HasPrefix(custom, "Focus on symptoms.\n\nTranscript:\n") || !strings.HasSuffix(custom, want) {
		t.Errorf("custom prompt = %q", custom)
	}
}

func TestNewEnricher(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		model   string
	}{
		{"openai", Config{Provider: "openai", APIKey: "sk-test"}, false, "gpt-4o-mini"},
		{"groq", Config{Provider: "groq", APIKey: "gsk-test"}, false, "llama-3.3-70b-versatile"},
		{"groq custom model", Config{Provider: "groq", APIKey: "gsk-test", Model: "m"}, false, "m"},
		{"missing key", Config{Provider: "openai"}, true, ""},
		{"unsupported", Config{Provider: "unsupported", APIKey: "key"}, true, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEnricher(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEnricher() error = %v", err)
			}
			ce, ok := e.(*ChatEnricher)
			if !ok {
				t.Fatalf("expected *ChatEnricher, got %T", e)
			}
			if ce.config.Model != tc.model {
				t.Errorf("model = %q, want %q", ce.config.Model, tc.model)
			}
		})
	}
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %q, want json_object", req.ResponseFormat.Type)
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "upstream exploded", "type": "server_error"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnrich(t *testing.T) {
	content := `{"speakers":{"0":{"role":"doctor","gender":"female"},"speaker_1":{"role":"patient","gender":"unknown"}},` +
		`"entities":[{"text":"fever","type":"symptom"},{"text":" ","type":"noise"}],"sentiment":"neutral","urgency":"medium"}`
	srv := chatServer(t, http.StatusOK, content)

	e := NewOpenAIEnricher(Config{APIKey: "test-key", BaseURL: srv.URL})
	ann, err := e.Enrich(context.Background(), []transcript.Segment{{SpeakerID: 0, Text: "hello", IsFinal: true}})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if ann.Speakers[0].Role != "doctor" || ann.Speakers[1].Role != "patient" {
		t.Errorf("speakers = %+v", ann.Speakers)
	}
	if len(ann.Entities) != 1 || ann.Entities[0].Text != "fever" {
		t.Errorf("entities = %+v", ann.Entities)
	}
	if ann.Sentiment != "neutral" || ann.Urgency != "medium" {
		t.Errorf("sentiment/urgency = %q/%q", ann.Sentiment, ann.Urgency)
	}
}

func TestEnrichFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"not json", http.StatusOK, "I think the doctor is speaker 0."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := chatServer(t, tc.status, tc.content)
			e := NewGroqEnricher(Config{APIKey: "test-key", BaseURL: srv.URL})
			_, err := e.Enrich(context.Background(), []transcript.Segment{{Text: "hi"}})
			var ee *EnrichmentError
			if !errors.As(err, &ee) {
				t.Fatalf("error = %v, want *EnrichmentError", err)
			}
			if ee.Provider != "groq" {
				t.Errorf("provider = %q", ee.Provider)
			}
		})
	}
}

func TestEnrichEmptyTranscriptSkipsCall(t *testing.T) {
	e := NewOpenAIEnricher(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	ann, err := e.Enrich(context.Background(), nil)
	if err != nil || ann == nil {
		t.Errorf("Enrich(nil) = %v, %v", ann, err)
	}
}

func TestParseAnnotationsFenced(t *testing.T) {
	ann, err := parseAnnotations("```json\n{\"sentiment\":\"negative\",\"speakers\":{\"x\":{\"role\":\"a\"}}}\n```")
	if err != nil {
		t.Fatalf("parseAnnotations() error = %v", err)
	}
	if ann.Sentiment != "negative" || len(ann.Speakers) != 0 {
		t.Errorf("ann = %+v", ann)
	}
}
