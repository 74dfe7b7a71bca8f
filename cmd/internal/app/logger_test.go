package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	t.Parallel()

	var js bytes.Buffer
	slog.New(newHandler(&js, "info", "json", false)).Info("scan.accepted", "session_id", "s1")
	var rec map[string]any
	if err := json.Unmarshal(js.Bytes(), &rec); err != nil {
		t.Fatalf("json handler output is not JSON: %v (%q)", err, js.String())
	}
	if rec["msg"] != "scan.accepted" || rec["session_id"] != "s1" || rec["source"] == nil {
		t.Fatalf("unexpected json record: %v", rec)
	}

	var pretty bytes.Buffer
	l := slog.New(newHandler(&pretty, "warn", "PRETTY", false))
	l.Info("dropped")
	l.Warn("scan.rejected", "reason", "device_mismatch")
	out := pretty.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "lvl=[WARN] msg=scan.rejected") || !strings.Contains(out, "reason=device_mismatch") {
		t.Fatalf("unexpected pretty output: %q", out)
	}
}
