package util

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLimitedWriter(t *testing.T) {
	tests := []struct {
		name         string
		limit        int
		writes       []string
		want         string
		wantOverflow bool
	}{
		{"under limit", 10, []string{"abc"}, "abc", false},
		{"exact limit", 3, []string{"abc"}, "abc", false},
		{"truncates", 4, []string{"abcdef"}, "abcd", true},
		{"split across writes", 5, []string{"abc", "def", "ghi"}, "abcde", true},
		{"zero limit", 0, []string{"abc"}, "", true},
		{"empty write at limit", 3, []string{"abc", ""}, "abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			lw := NewLimitedWriter(&buf, tt.limit)
			for _, w := range tt.writes {
				n, err := lw.Write([]byte(w))
				if err != nil || n != len(w) {
					t.Fatalf("Write(%q) = %d, %v", w, n, err)
				}
			}
			if buf.String() != tt.want {
				t.Errorf("buf = %q, want %q", buf.String(), tt.want)
			}
			if lw.Overflow() != tt.wantOverflow {
				t.Errorf("Overflow() = %v, want %v", lw.Overflow(), tt.wantOverflow)
			}
			if lw.Written() != len(tt.want) {
				t.Errorf("Written() = %d, want %d", lw.Written(), len(tt.want))
			}
		})
	}
}

func TestLimitedWriter_WithCopy(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLimitedWriter(&buf, 1024)
	n, err := io.Copy(lw, strings.NewReader(strings.Repeat("x", 4096)))
	if err != nil {
		t.Fatalf("io.Copy: %v", err)
	}
	if n != 4096 {
		t.Errorf("copied %d, want 4096 (discard must look like success)", n)
	}
	if buf.Len() != 1024 || !lw.Overflow() {
		t.Errorf("len=%d overflow=%v", buf.Len(), lw.Overflow())
	}
}
