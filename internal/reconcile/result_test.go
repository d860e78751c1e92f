package reconcile

import (
	"testing"
	"time"
)

func TestIsValidResult(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"nil", nil, false},
		{"empty", map[string]any{}, false},
		{"backend error", map[string]any{"error": "No results available"}, false},
		{"error with keys", map[string]any{"error": "boom", "solution": map[string]any{}}, false},
		{"blank error ignored", map[string]any{"error": "", "project_name": "X"}, true},
		{"null error ignored", map[string]any{"error": nil, "steps": []any{}}, true},
		{"nested shape", map[string]any{"solution": map[string]any{"project_name": "X"}}, true},
		{"flat shape", map[string]any{"project_name": "X"}, true},
		{"unrelated keys", map[string]any{"status": "ok"}, false},
		{"null value", map[string]any{"solution": nil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidResult(tt.payload, nil); got != tt.want {
				t.Errorf("IsValidResult(%v) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestIsValidResultCustomKeys(t *testing.T) {
	if !IsValidResult(map[string]any{"answer": 1}, []string{"answer"}) {
		t.Error("custom key not accepted")
	}
	if IsValidResult(map[string]any{"project_name": "X"}, []string{"answer"}) {
		t.Error("default key accepted when custom keys given")
	}
}

func TestFreshSince(t *testing.T) {
	since := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	old := map[string]any{"timestamp": "2026-05-01T11:59:59Z"}

	tests := []struct {
		name    string
		payload map[string]any
		since   time.Time
		want    bool
	}{
		{"older", old, since, false},
		{"newer", map[string]any{"timestamp": "2026-05-01T12:00:01Z"}, since, true},
		{"no timestamp", map[string]any{}, since, true},
		{"unparsable", map[string]any{"timestamp": "garbage"}, since, true},
		{"zero since", old, time.Time{}, true},
	}
	for _, tt := range tests {
		if got := FreshSince(tt.payload, tt.since); got != tt.want {
			t.Errorf("%s: FreshSince() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
