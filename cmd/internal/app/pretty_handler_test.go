package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":            `""`,
		"plain":       "plain",
		"two words":   `"two words"`,
		`say "hi"`:    `"say \"hi\""`,
		"k=v":         `"k=v"`,
		"line\nbreak": `"line\nbreak"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestColorizers(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(503, true); got != ansiRed+"503"+ansiReset {
		t.Fatalf("503 => %q", got)
	}
	if got := colorizeStatusCode(201, false); got != "201" {
		t.Fatalf("plain 201 => %q", got)
	}
	if got := colorizeStatusClass("4xx", true); got != ansiYellow+"4xx"+ansiReset {
		t.Fatalf("4xx => %q", got)
	}
	if got := colorizeDurationMS(1500, false); got != "1500ms" {
		t.Fatalf("duration => %q", got)
	}
	if got := colorizeHTTPMethod("DELETE", true); got != ansiRed+"DELETE"+ansiReset {
		t.Fatalf("DELETE => %q", got)
	}
	if got := colorizeStreamState("failed", true); got != ansiRed+"failed"+ansiReset {
		t.Fatalf("failed => %q", got)
	}
	if got := colorizeResult("weird value", false); got != `"weird value"` {
		t.Fatalf("unknown result => %q", got)
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   slog.Value
		want int64
		ok   bool
	}{
		{in: slog.IntValue(42), want: 42, ok: true},
		{in: slog.Uint64Value(7), want: 7, ok: true},
		{in: slog.Float64Value(3.9), want: 3, ok: true},
		{in: slog.DurationValue(1500 * time.Millisecond), want: 1500, ok: true},
		{in: slog.StringValue("404"), want: 404, ok: true},
		{in: slog.StringValue("n/a"), ok: false},
		{in: slog.BoolValue(true), ok: false},
	}
	for _, tc := range cases {
		got, ok := valueToInt64(tc.in)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("valueToInt64(%v)=(%d,%v) want=(%d,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPrettyHandler_RequestLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h).With("component", "ops").WithGroup("http")

	log.Info("ops.request",
		"method", "get",
		"path", "/readyz",
		"status", 503,
		"status_class", "5xx",
		"duration_ms", int64(12),
		"note", "db not ready",
	)

	out := buf.String()
	want := []string{
		" INF ops.request ",
		"component=ops",
		"http.method=GET",
		"http.path=/readyz",
		"http.status=503",
		"http.class=5xx",
		"http.duration=12ms",
		`http.note="db not ready"`,
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Fatalf("missing %q in %q", w, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("record must end with newline: %q", out)
	}
}

func TestPrettyHandler_ColorKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Log(context.Background(), slog.LevelError, "app.stream.disconnect", "state", "failed", "token_fp", "abc123", "err", "dial refused")

	out := buf.String()
	want := []string{
		ansiRed + "ERR" + ansiReset,
		ansiCyan + "app.stream.disconnect" + ansiReset,
		"[state=" + ansiRed + "failed" + ansiReset + "]",
		"token_fp=" + ansiDim + "abc123" + ansiReset,
		"err=" + ansiRed + `"dial refused"` + ansiReset,
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Fatalf("missing %q in %q", w, out)
		}
	}
}

func TestPrettyHandler_PinnedContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).With("attempts", 2, "session_id", "s1")
	log.Info("stream.reconnect.scheduled", "in", "3s", "state", "reconnecting", "max_attempts", 5)

	got := strings.TrimSuffix(buf.String(), "\n")
	want := "INF stream.reconnect.scheduled [session_id=s1 state=reconnecting attempts=2] in=3s max_attempts=5"
	if !strings.HasSuffix(got, want) {
		t.Fatalf("line=%q want suffix %q", got, want)
	}
}

func TestPrettyHandler_GroupedKeysAreNotPinned(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))
	log.Info("session.restore", slog.Group("prev", "state", "authenticated"), "user", "viewer")

	out := buf.String()
	if !containsAll(out, "session.restore [user=viewer] prev.state=authenticated") {
		t.Fatalf("unexpected line: %q", out)
	}
}

func TestEventColor(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"stream.connect":         ansiCyan,
		"app.stream.open":        ansiCyan,
		"session.logout":         ansiMagenta,
		"transport.unauthorized": ansiBlue,
		"credstore.file.reset":   ansiYellow,
		"ops.request":            ansiGreen,
		"mock.ws.open":           ansiDim,
		"app.signin":             ansiBright,
		"hello":                  "",
	}
	for event, want := range cases {
		if got := eventColor(event); got != want {
			t.Fatalf("eventColor(%q)=%q want %q", event, got, want)
		}
	}
}
