package slides

import "testing"

func TestImageRuleResolve(t *testing.T) {
	proxied := ImageRule{Proxy: SchemePredicate([]string{"http", "https://"}), ProxyPath: "/api/proxy_image"}
	direct := ImageRule{}

	tests := []struct {
		name     string
		rule     ImageRule
		original string
		nonce    string
		want     string
	}{
		{"proxied remote", proxied, "http://a.b/c.png", "9", "/api/proxy_image?url=http%3A%2F%2Fa.b%2Fc.png&t=9"},
		{"scheme case", proxied, "HTTPS://a.b/c.png", "", "/api/proxy_image?url=HTTPS%3A%2F%2Fa.b%2Fc.png"},
		{"local path not proxied", proxied, "/static/2.png", "9", "/static/2.png?t=9"},
		{"existing query", direct, "http://a.b/c.png?w=1", "9", "http://a.b/c.png?w=1&t=9"},
		{"direct no nonce", direct, "http://a.b/c.png", "", "http://a.b/c.png"},
		{"data uri untouched", proxied, "data:image/png;base64,AAA", "9", "data:image/png;base64,AAA"},
		{"empty", proxied, "  ", "9", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Resolve(tt.original, tt.nonce); got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.original, tt.nonce, got, tt.want)
			}
		})
	}
}

func TestImageRuleNewNonceBustsCache(t *testing.T) {
	rule := ImageRule{}
	if rule.Resolve("/static/p.png", "1") == rule.Resolve("/static/p.png", "2") {
		t.Error("different nonces resolve to the same target")
	}
}

func TestSchemePredicate(t *testing.T) {
	p := SchemePredicate([]string{"https"})
	tests := []struct {
		in   string
		want bool
	}{
		{"https://x", true},
		{"http://x", false},
		{"/static/x", false},
		{"::bad", false},
	}
	for _, tt := range tests {
		if got := p(tt.in); got != tt.want {
			t.Errorf("predicate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
