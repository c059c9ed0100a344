// Package obs provides the ambient logging and metrics surface shared by the
// session, listener, and cmd packages: a logrus logger configured with the
// fields this protocol actually logs by, and an optional Prometheus
// collector for its congestion and traffic counters.
package obs

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a logrus.Logger with a text formatter and the given
// level (parsed with logrus.ParseLevel; an invalid level falls back to
// Info). level is typically sourced from a cmd flag or config file.
func NewLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Discard returns a logger that drops everything, used as the zero-value
// fallback when a session or listener is built without an explicit logger.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// SessionFields builds the common field set every session log line carries:
// the peer address, its current state, and whatever transport stats are
// relevant to the event being logged.
func SessionFields(addr string, state string) logrus.Fields {
	return logrus.Fields{
		"remote_addr":   addr,
		"session_state": state,
	}
}

// WithTransport adds the transport-health fields (sequence number,
// congestion window, retransmission timeout) to an existing field set.
func WithTransport(f logrus.Fields, seq uint32, cwnd uint32, rtoMillis int64) logrus.Fields {
	f["seq"] = seq
	f["cwnd"] = cwnd
	f["rto_ms"] = rtoMillis
	return f
}

// Banner prints the colorized startup banner shown by the cmd binaries.
func Banner(title, version string) {
	bold := color.New(color.FgCyan, color.Bold)
	bold.Printf("=== %s ===\n", title)
	color.White("version %s", version)
}

// Success prints a green one-line confirmation.
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf(format+"\n", args...)
}
