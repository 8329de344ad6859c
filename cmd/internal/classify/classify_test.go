package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completionsServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected message layout: %+v", req.Messages)
		}

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{
				{Message: chatMessage{Role: "assistant", Content: content}},
			},
		})
	}))
}

func TestHTTPClassifierHappyPath(t *testing.T) {
	t.Parallel()

	srv := completionsServer(t, http.StatusOK, `{"category": "Food & Dining", "title": "Best taco spots"}`)
	defer srv.Close()

	c, err := NewHTTPClassifier(srv.URL, "test-key")
	if err != nil {
		t.Fatalf("NewHTTPClassifier: %v", err)
	}

	res, err := c.Classify(context.Background(), "where are the best tacos?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Category != "Food & Dining" {
		t.Fatalf("Category = %q", res.Category)
	}
	if res.Title != "Best taco spots" {
		t.Fatalf("Title = %q", res.Title)
	}
}

func TestHTTPClassifierRejectsEmptyText(t *testing.T) {
	t.Parallel()

	c, err := NewHTTPClassifier("https://api.example.com/v1", "test-key")
	if err != nil {
		t.Fatalf("NewHTTPClassifier: %v", err)
	}
	if _, err := c.Classify(context.Background(), "   "); err == nil {
		t.Fatal("empty text accepted")
	}
}

func TestHTTPClassifierNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := completionsServer(t, http.StatusTooManyRequests, "")
	defer srv.Close()

	c, _ := NewHTTPClassifier(srv.URL, "test-key")
	_, err := c.Classify(context.Background(), "hello")
	if err == nil {
		t.Fatal("want error on 429, got nil")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error %q does not name the status", err)
	}
}

func TestHTTPClassifierBadContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"prose instead of JSON", "Sure! I'd say this is about food."},
		{"missing category", `{"title": "Some title"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := completionsServer(t, http.StatusOK, tt.content)
			defer srv.Close()

			c, _ := NewHTTPClassifier(srv.URL, "test-key")
			if _, err := c.Classify(context.Background(), "hello"); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}

func TestHTTPClassifierEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c, _ := NewHTTPClassifier(srv.URL, "test-key")
	if _, err := c.Classify(context.Background(), "hello"); err == nil {
		t.Fatal("want error on empty choices, got nil")
	}
}

func TestNewHTTPClassifierValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPClassifier("", "key"); err == nil {
		t.Error("empty base URL accepted")
	}
	if _, err := NewHTTPClassifier("https://api.example.com/v1", "  "); err == nil {
		t.Error("empty API key accepted")
	}
}

func TestNoopClassifier(t *testing.T) {
	t.Parallel()

	res, err := Noop{}.Classify(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Noop.Classify: %v", err)
	}
	if res != (Result{}) {
		t.Fatalf("Noop result = %+v, want zero", res)
	}
}
