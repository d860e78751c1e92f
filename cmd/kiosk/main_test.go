package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sparkbox/go-kiosk/internal/config"
)

func TestBuildInfoFrom(t *testing.T) {
	tests := []struct {
		name, version, commit, vcs string
		wantVersion, wantCommit    string
	}{
		{"release", "v1.2.0", "abc", "", "v1.2.0", "abc"},
		{"dev with vcs", "dev", "", "0123456789ab", "dev+0123456789ab", "0123456789ab"},
		{"empty", "", "", "", "dev", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildInfoFrom(tt.version, tt.commit, tt.vcs)
			if got.Version != tt.wantVersion || got.Commit != tt.wantCommit {
				t.Fatalf("got %+v", got)
			}
			if !strings.HasPrefix(got.String(), "kiosk "+tt.wantVersion) {
				t.Fatalf("String() = %q", got.String())
			}
		})
	}
	if shortCommit(" 0123456789abcdef ") != "0123456789ab" {
		t.Fatal("shortCommit should keep 12 characters")
	}
}

func TestControllerConfigFromConfig(t *testing.T) {
	cfg := config.Load()
	cfg.ChatChunkMax = 120
	cfg.PollIntervalMS = 250
	cfg.ImageRetryCeiling = 5

	policy := imagePolicy(cfg)
	if policy.Ceiling != 5 || policy.Step != cfg.ImageRetryStep() {
		t.Fatalf("policy = %+v", policy)
	}
	if policy.Rule.Proxy == nil || !policy.Rule.Proxy("https://img.example/a.png") {
		t.Fatal("https images should be proxied by default")
	}
	if policy.Rule.Proxy("/static/a.png") {
		t.Fatal("relative images should not be proxied")
	}

	kc := controllerConfig(cfg, policy)
	if kc.Options.ChunkMax != 120 || kc.PollInterval != 250*time.Millisecond {
		t.Fatalf("controller config = %+v", kc)
	}
	if kc.Options.ImageRule.ProxyPath != cfg.ImageProxyPath {
		t.Fatalf("proxy path = %q", kc.Options.ImageRule.ProxyPath)
	}

	cfg.ImageProxyEnabled = false
	if imagePolicy(cfg).Rule.Proxy != nil {
		t.Fatal("proxy disabled should leave predicate nil")
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "tui", "migrate", "version"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "kiosk ") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestRunRejectsMissingConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestMigrateRequiresDatabase(t *testing.T) {
	cfg := config.Load()
	cfg.PostgresConnStr = ""
	if err := migrate(context.Background(), cfg, ""); err == nil {
		t.Fatal("expected error without connection string")
	}
}

func TestIsCanceled(t *testing.T) {
	if !isCanceled(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatal("wrapped cancel should be recognised")
	}
	if isCanceled(errors.New("boom")) {
		t.Fatal("plain error is not a cancel")
	}
}
