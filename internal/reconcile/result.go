package reconcile

import (
	"strings"
	"time"

	"github.com/sparkbox/go-kiosk/internal/events"
)

// DefaultResultKeys 有效结果至少包含其中一个键。
var DefaultResultKeys = []string{"solution", "project_name", "vision", "materials", "steps"}

// IsValidResult 无 error 字段且至少含一个期望键 (值非空)。
func IsValidResult(payload map[string]any, keys []string) bool {
	if len(payload) == 0 {
		return false
	}
	if e, ok := payload["error"]; ok && e != nil {
		if s, isStr := e.(string); !isStr || strings.TrimSpace(s) != "" {
			return false
		}
	}
	if len(keys) == 0 {
		keys = DefaultResultKeys
	}
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return true
		}
	}
	return false
}

// ResultTimestamp 载荷内的 timestamp 字段。
func ResultTimestamp(payload map[string]any) (time.Time, bool) {
	s, ok := payload["timestamp"].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return time.Time{}, false
	}
	t, err := events.ParseTimestamp(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FreshSince 载荷时间戳不早于 since 时为真; 无时间戳视为新鲜。
func FreshSince(payload map[string]any, since time.Time) bool {
	t, ok := ResultTimestamp(payload)
	if !ok || since.IsZero() {
		return true
	}
	return !t.Before(since)
}
