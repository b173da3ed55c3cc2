// Package testutil provides common test utilities and fakes for tabiji tests.
package testutil

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"golang.org/x/text/language"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// SignedWebhookRequest builds a webhook POST signed the way LINE signs it.
func SignedWebhookRequest(t *testing.T, channelSecret, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Signature", Sign(channelSecret, body))
	return req
}

// Sign returns the base64 HMAC-SHA256 of body keyed by channelSecret.
func Sign(channelSecret, body string) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// FakeTranslator prefixes the input so tests can see it was translated.
type FakeTranslator struct {
	mu    sync.Mutex
	Err   error
	Calls []string
}

// Translate implements translate.Translator.
func (f *FakeTranslator) Translate(ctx context.Context, text string, source, target language.Tag) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, text)
	if f.Err != nil {
		return "", f.Err
	}
	return "en:" + text, nil
}

// CallCount returns how many times Translate was called.
func (f *FakeTranslator) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeGenerator returns fixed URLs. When Release is set, Generate blocks
// until it is closed, so tests can observe a job while it runs.
type FakeGenerator struct {
	mu      sync.Mutex
	URLs    []string
	Err     error
	Release chan struct{}
	Prompts []string
}

// Generate implements imagegen.Generator.
func (f *FakeGenerator) Generate(ctx context.Context, prompt string) ([]string, error) {
	f.mu.Lock()
	f.Prompts = append(f.Prompts, prompt)
	release := f.Release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.URLs, nil
}

// PromptsSeen returns a copy of the prompts passed to Generate.
func (f *FakeGenerator) PromptsSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Prompts...)
}
