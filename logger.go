package ctcp

import (
	"context"
	"log/slog"
)

// levelTrace sits two steps below slog's Debug level, for the kind of
// per-segment chatter that would otherwise flood a debug log.
const levelTrace = slog.LevelDebug - 2

// logger wraps a *slog.Logger with nil-safe, allocation-light helpers. A
// zero-value logger silently discards everything, so a Connection built
// without an explicit logger works without a nil check at every call site.
type logger struct {
	l *slog.Logger
}

func newLogger(l *slog.Logger) logger { return logger{l: l} }

func (lg logger) enabled(lvl slog.Level) bool {
	return lg.l != nil && lg.l.Handler().Enabled(context.Background(), lvl)
}

func (lg logger) logAttrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	if lg.l != nil {
		lg.l.LogAttrs(context.Background(), lvl, msg, attrs...)
	}
}

func (lg logger) debug(msg string, attrs ...slog.Attr) { lg.logAttrs(slog.LevelDebug, msg, attrs...) }
func (lg logger) trace(msg string, attrs ...slog.Attr) { lg.logAttrs(levelTrace, msg, attrs...) }
func (lg logger) info(msg string, attrs ...slog.Attr)  { lg.logAttrs(slog.LevelInfo, msg, attrs...) }
func (lg logger) logerr(msg string, attrs ...slog.Attr) {
	lg.logAttrs(slog.LevelError, msg, attrs...)
}

// traceSeg logs a one-line summary of seg at trace level, guarded so the
// attribute construction is skipped when tracing is off.
func (lg logger) traceSeg(msg string, seg Segment) {
	if !lg.enabled(levelTrace) {
		return
	}
	lg.trace(msg,
		slog.Uint64("seg.seq", uint64(seg.Seq)),
		slog.Uint64("seg.ack", uint64(seg.Ack)),
		slog.Uint64("seg.wnd", uint64(seg.Window)),
		slog.String("seg.flags", seg.Flags.String()),
		slog.Uint64("seg.data", uint64(len(seg.Payload))),
	)
}
