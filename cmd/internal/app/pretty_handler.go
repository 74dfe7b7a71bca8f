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

// prettyHandler writes one key=value line per record for local development.
//
// Event names are dotted ("scan.accepted"); the leading area is colored so
// scan, session and override traffic separate at a glance. Identifier keys
// (*_id) are highlighted and scan delays render with a unit.
type prettyHandler struct {
	w      io.Writer
	level  slog.Leveler
	source bool
	prefix string
	attrs  []slog.Attr
	color  bool
	mu     *sync.Mutex
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

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	h.writeHeader(&b, r)

	for _, a := range h.attrs {
		h.appendAttr(&b, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, h.prefix)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) writeHeader(b *strings.Builder, r slog.Record) {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(b, "ts=%s lvl=%s msg=%s",
		paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		levelTag(r.Level, h.color),
		h.eventName(r.Message),
	)

	if !h.source || r.PC == 0 {
		return
	}
	frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
	if frame.File != "" {
		b.WriteString(" src=")
		b.WriteString(paint(filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line), ansiDim, h.color))
	}
}

// eventName colors the area of a dotted event name and bolds the rest.
func (h *prettyHandler) eventName(msg string) string {
	if !h.color || strings.ContainsAny(msg, " \t\r\n\"=") {
		return paint(quoteIfNeeded(msg), ansiBright, h.color)
	}
	area, rest, ok := strings.Cut(msg, ".")
	if !ok {
		return paint(msg, ansiBright, true)
	}
	return paint(area, areaColor(area), true) + "." + paint(rest, ansiBright, true)
}

func areaColor(area string) string {
	switch area {
	case "scan":
		return ansiGreen
	case "session", "sweep":
		return ansiBlue
	case "override", "roster":
		return ansiMagenta
	case "device", "security":
		return ansiYellow
	case "db", "redis", "store":
		return ansiCyan
	default:
		return ansiDim
	}
}

// WithAttrs resolves attrs under the current group prefix so later groups
// do not re-qualify them.
func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	if cp.prefix == "" {
		cp.prefix = name
	} else {
		cp.prefix += "." + name
	}
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" && a.Value.Kind() != slog.KindGroup {
		return
	}
	if parent != "" && key != "" {
		key = parent + "." + key
	} else if key == "" {
		key = parent
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, key)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(prettyKey(key))
	b.WriteByte('=')
	b.WriteString(h.prettyValue(key, a.Value))
}

// prettyKey shortens a few verbose top-level keys.
func prettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	case "delay_min":
		return "delay"
	case "err":
		return "error"
	default:
		return k
	}
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		return paint(strings.TrimSpace(v.String()), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class", "class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "delay_min":
		if n, ok := valueToInt64(v); ok {
			return colorizeDelay(n, h.color)
		}
	case "result", "reason":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	case "severity":
		return colorizeSeverity(strings.TrimSpace(v.String()), h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	}

	s := quoteIfNeeded(valueToString(v))
	if strings.HasSuffix(key, "_id") {
		return paint(s, ansiCyan, h.color)
	}
	return s
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
		return v.Duration().Round(time.Millisecond).String()
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
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("[ERROR]", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("[WARN]", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("[DEBUG]", ansiMagenta, color)
	default:
		return paint("[INFO]", ansiBlue, color)
	}
}
