package ewf

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// notifier is the injected verbose/diagnostic sink described in spec.md's
// DESIGN NOTES ("A notify/verbose sink is injected, not global"). It wraps
// a go-kit/log.Logger so the handle never reaches for a package-level
// logger.
type notifier struct {
	l log.Logger
}

func newNotifier(l log.Logger) notifier {
	if l == nil {
		l = log.NewNopLogger()
	}
	return notifier{l: l}
}

// the zero-value notifier (l == nil) is a safe no-op, so internal
// components can hold one as a plain struct field without every call site
// having to construct it via newNotifier first.
func (n notifier) debugf(component string, keyvals ...any) {
	if n.l == nil {
		return
	}
	_ = level.Debug(n.l).Log(append([]any{"component", component}, keyvals...)...)
}

func (n notifier) warnf(component string, keyvals ...any) {
	if n.l == nil {
		return
	}
	_ = level.Warn(n.l).Log(append([]any{"component", component}, keyvals...)...)
}

func (n notifier) errorf(component string, keyvals ...any) {
	if n.l == nil {
		return
	}
	_ = level.Error(n.l).Log(append([]any{"component", component}, keyvals...)...)
}
