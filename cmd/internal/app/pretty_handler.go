package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pinnedKeys identify the stream or session a record belongs to. They are lifted
// out of the attribute list into a bracketed block right after the event name, in
// this order, wherever they were attached.
var pinnedKeys = []string{"session_id", "user", "state", "attempts"}

// prettyHandler renders one console line per record:
//
//	15:04:05.000 WRN stream.reconnect.scheduled [session_id=s1 state=reconnecting attempts=2] in=3s
type prettyHandler struct {
	w      io.Writer
	level  slog.Leveler
	source bool
	color  bool
	prefix string
	fields []prettyField
	mu     *sync.Mutex
}

type prettyField struct {
	key string
	val slog.Value
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, level: slog.LevelInfo, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.fields = append([]prettyField(nil), h.fields...)
	for _, a := range attrs {
		cp.fields = flattenAttr(cp.fields, h.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]prettyField(nil), h.fields...)
	r.Attrs(func(a slog.Attr) bool {
		fields = flattenAttr(fields, h.prefix, a)
		return true
	})
	pinned, rest := splitPinned(fields)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString(paint(r.Message, eventColor(r.Message), h.color))

	if len(pinned) > 0 {
		b.WriteString(" [")
		for i, f := range pinned {
			if i > 0 {
				b.WriteByte(' ')
			}
			h.writeField(&b, f)
		}
		b.WriteByte(']')
	}
	for _, f := range rest {
		b.WriteByte(' ')
		h.writeField(&b, f)
	}

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), ansiDim, h.color))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// flattenAttr appends a resolved attribute, expanding groups into dotted keys.
func flattenAttr(dst []prettyField, prefix string, a slog.Attr) []prettyField {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	key := strings.TrimSpace(a.Key)
	if a.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = flattenAttr(dst, prefix, ga)
		}
		return dst
	}
	if key == "" {
		return dst
	}
	return append(dst, prettyField{key: prefix + key, val: a.Value})
}

// splitPinned pulls top-level pinned keys out of fields. A later value wins.
func splitPinned(fields []prettyField) (pinned, rest []prettyField) {
	found := make(map[string]slog.Value, len(pinnedKeys))
	for _, f := range fields {
		if isPinned(f.key) {
			found[f.key] = f.val
			continue
		}
		rest = append(rest, f)
	}
	for _, k := range pinnedKeys {
		if v, ok := found[k]; ok {
			pinned = append(pinned, prettyField{key: k, val: v})
		}
	}
	return pinned, rest
}

func isPinned(key string) bool {
	for _, k := range pinnedKeys {
		if key == k {
			return true
		}
	}
	return false
}

func (h *prettyHandler) writeField(b *strings.Builder, f prettyField) {
	leaf := f.key
	if i := strings.LastIndexByte(leaf, '.'); i >= 0 {
		leaf = leaf[i+1:]
	}
	prefix := f.key[:len(f.key)-len(leaf)]

	name := leaf
	switch leaf {
	case "status_class":
		name = "class"
	case "duration_ms":
		name = "duration"
	}
	b.WriteString(prefix + name)
	b.WriteByte('=')
	b.WriteString(h.fieldValue(leaf, f.val))
}

func (h *prettyHandler) fieldValue(leaf string, v slog.Value) string {
	switch leaf {
	case "state", "from", "to":
		return colorizeStreamState(strings.ToLower(valueToString(v)), h.color)
	case "attempts", "attempt":
		return paint(valueToString(v), ansiYellow, h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	case "token_fp", "request_id", "session_id":
		return paint(quoteIfNeeded(valueToString(v)), ansiDim, h.color)
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		return paint(strings.TrimSpace(v.String()), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	}
	return quoteIfNeeded(valueToString(v))
}

// eventColor picks a color from the subsystem that produced the event. App events
// are colored after the subsystem they report on ("app.stream.open" as stream).
func eventColor(event string) string {
	parts := strings.SplitN(event, ".", 3)
	domain := parts[0]
	if domain == "app" && len(parts) == 3 {
		domain = parts[1]
	}
	switch domain {
	case "stream":
		return ansiCyan
	case "session", "signin":
		return ansiMagenta
	case "transport":
		return ansiBlue
	case "credstore":
		return ansiYellow
	case "ops", "readyz":
		return ansiGreen
	case "mock":
		return ansiDim
	case "app":
		return ansiBright
	default:
		return ""
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=[]") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERR", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("WRN", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("DBG", ansiMagenta, color)
	default:
		return paint("INF", ansiBlue, color)
	}
}
