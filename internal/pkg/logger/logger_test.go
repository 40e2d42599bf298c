package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	fn()

	line := strings.TrimSpace(buf.String())
	if line == "" {
		return nil
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q: %v", line, err)
	}
	return entry
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactToken(t *testing.T) {
	if got := RedactToken("abcd1234efgh5678"); got != "abcd***" {
		t.Errorf("RedactToken = %q", got)
	}
	if got := RedactToken("short"); got != "***" {
		t.Errorf("RedactToken short = %q", got)
	}
}

func TestLogRedactsEmailFields(t *testing.T) {
	entry := capture(t, func() {
		Info("subscriber created", "email", "john.doe@example.com")
	})
	if entry == nil {
		t.Fatal("expected a log line")
	}
	got, _ := entry["email"].(string)
	if strings.Contains(got, "john.doe") {
		t.Errorf("email not redacted: %q", got)
	}
}

func TestLogRedactsTokenFields(t *testing.T) {
	entry := capture(t, func() {
		Info("token minted", "token", "abcd1234efgh5678")
	})
	got, _ := entry["token"].(string)
	if strings.Contains(got, "efgh5678") {
		t.Errorf("token not redacted: %q", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	SetLevel(WARN)
	defer SetLevel(INFO)

	entry := capture(t, func() {
		Info("below threshold")
	})
	if entry != nil {
		t.Errorf("INFO line emitted at WARN level: %v", entry)
	}
}
