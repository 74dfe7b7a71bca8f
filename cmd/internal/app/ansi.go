package app

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRE.ReplaceAllString(s, "") }

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiBlue, color)
	case "POST":
		return paint(m, ansiGreen, color)
	case "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	return paint(strconv.Itoa(code), statusColor(code), color)
}

func colorizeStatusClass(class string, color bool) string {
	if len(class) == 3 && class[1:] == "xx" {
		return paint(class, statusColor(int(class[0]-'0')*100), color)
	}
	return class
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

// colorizeDelay renders a scan's marking delay; ten minutes or more reads as late.
func colorizeDelay(minutes int64, color bool) string {
	s := strconv.FormatInt(minutes, 10) + "m"
	if minutes >= 10 {
		return paint(s, ansiYellow, color)
	}
	return paint(s, ansiGreen, color)
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success", "accepted", "applied":
		return paint(result, ansiGreen, color)
	case "redirect", "duplicate", "pending":
		return paint(result, ansiCyan, color)
	case "client_error":
		return paint(result, ansiYellow, color)
	case "server_error", "error":
		return paint(result, ansiRed, color)
	default:
		return quoteIfNeeded(result)
	}
}

func colorizeSeverity(sev string, color bool) string {
	switch strings.ToLower(sev) {
	case "critical", "high":
		return paint(sev, ansiRed, color)
	case "medium":
		return paint(sev, ansiYellow, color)
	default:
		return paint(sev, ansiDim, color)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
