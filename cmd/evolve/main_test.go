package main

import (
	"log/slog"
	"strings"
	"testing"

	"evolve/internal/domain"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]domain.Status{
		"pending":     domain.StatusPending,
		"In Progress": domain.StatusInProgress,
		"in_progress": domain.StatusInProgress,
		"COMPLETED":   domain.StatusCompleted,
		"discarded":   domain.StatusDiscarded,
	}
	for in, want := range cases {
		got, err := parseStatus(in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
	if _, err := parseStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Fatalf("expected unchanged text, got %q", got)
	}
	if got := truncateText("line one\nline two", 100); got != "line one line two" {
		t.Fatalf("expected newlines flattened, got %q", got)
	}
	got := truncateText("Your task 'Write report' is due at 15:30.", 10)
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("expected 10 runes ending in ellipsis, got %q", got)
	}
}

func TestServiceUnitRender(t *testing.T) {
	u := serviceUnit{exec: "/usr/local/bin/evolve", config: "/etc/evolve/config.yaml", scheduler: true}
	out := u.render(systemdTemplate, nil)
	if !strings.Contains(out, "ExecStart=/usr/local/bin/evolve serve --config /etc/evolve/config.yaml") {
		t.Fatalf("unexpected ExecStart in:\n%s", out)
	}
	if !strings.Contains(out, "Environment=ENABLE_SCHEDULER=true") {
		t.Fatalf("expected scheduler env in:\n%s", out)
	}

	plist := u.render(launchdTemplate, map[string]string{"{{LABEL}}": launchdLabel, "{{LOG}}": "/tmp/o.log", "{{ERR_LOG}}": "/tmp/e.log"})
	if strings.Contains(plist, "{{") {
		t.Fatalf("unreplaced placeholder in:\n%s", plist)
	}
}
