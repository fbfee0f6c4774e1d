// Package logger is the process log surface: a levelled slog text log
// with formatted package helpers, scoped loggers carrying the agent,
// profile and instrument of the cycle emitting each line, and a separate
// dump writer for decision-service traffic so large payloads stay out of
// the main log.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	level slog.LevelVar

	mu   sync.RWMutex
	root *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	root = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput replaces the log destination, usually with a stdout+file tee.
// Scopes created before the swap keep writing to the old destination.
func SetOutput(w io.Writer) {
	mu.Lock()
	root = build(w)
	mu.Unlock()
}

// SetLevel accepts debug, info, warn/warning or error; anything else
// falls back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func active() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

func Debugf(format string, v ...any) { active().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { active().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { active().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { active().Error(fmt.Sprintf(format, v...)) }

// Scope is a logger bound to one agent/profile/instrument so every line
// of a cycle identifies its triple without repeating it in the message.
// The zero value logs unscoped.
type Scope struct {
	l *slog.Logger
}

// ForTriple binds a Scope to one instrument under an agent+profile pair.
func ForTriple(instrument string, agentID, profileID int) Scope {
	return Scope{l: active().With(
		slog.String("instrument", instrument),
		slog.Int("agent", agentID),
		slog.Int("profile", profileID),
	)}
}

// WithOperation additionally tags the operation row the lines belong to.
func (s Scope) WithOperation(id int64) Scope {
	return Scope{l: s.scoped().With(slog.Int64("op", id))}
}

func (s Scope) scoped() *slog.Logger {
	if s.l == nil {
		return active()
	}
	return s.l
}

func (s Scope) Debugf(format string, v ...any) { s.scoped().Debug(fmt.Sprintf(format, v...)) }
func (s Scope) Infof(format string, v ...any)  { s.scoped().Info(fmt.Sprintf(format, v...)) }
func (s Scope) Warnf(format string, v ...any)  { s.scoped().Warn(fmt.Sprintf(format, v...)) }
func (s Scope) Errorf(format string, v ...any) { s.scoped().Error(fmt.Sprintf(format, v...)) }

// Decision-service traffic is dumped on its own writer and stays silent
// until one is installed. Responses are always kept in full; request
// payloads only when the payload dump is enabled.
var (
	dumpMu      sync.Mutex
	dumpWriter  io.Writer
	dumpPayload bool
)

// SetDecisionWriter installs (or with nil removes) the traffic dump
// destination.
func SetDecisionWriter(w io.Writer) {
	dumpMu.Lock()
	dumpWriter = w
	dumpMu.Unlock()
}

// EnableDecisionPayloadDump toggles dumping of outbound request payloads.
func EnableDecisionPayloadDump(enabled bool) {
	dumpMu.Lock()
	dumpPayload = enabled
	dumpMu.Unlock()
}

// LogDecisionRequest records one outbound decision request.
func LogDecisionRequest(role, instrument, conversation, payload string) {
	dumpMu.Lock()
	defer dumpMu.Unlock()
	if dumpWriter == nil {
		return
	}
	fmt.Fprintf(dumpWriter, "%s >> role=%s instrument=%s conversation=%s\n",
		dumpStamp(), role, instrument, conversation)
	if dumpPayload && strings.TrimSpace(payload) != "" {
		writeBlock(dumpWriter, payload)
	}
}

// LogDecisionResponse records the raw response document as received.
func LogDecisionResponse(role, instrument, raw string) {
	dumpMu.Lock()
	defer dumpMu.Unlock()
	if dumpWriter == nil {
		return
	}
	fmt.Fprintf(dumpWriter, "%s << role=%s instrument=%s\n", dumpStamp(), role, instrument)
	writeBlock(dumpWriter, raw)
}

func dumpStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeBlock(w io.Writer, body string) {
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		fmt.Fprintf(w, "\t%s\n", line)
	}
}
