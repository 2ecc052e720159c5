package recovery

import "context"

// Strategy decides how a recoverable structural problem is handled.
type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

// Location pinpoints where a problem was found.
type Location struct {
	ByteOffset int64
	ObjectNum  uint32
	ObjectGen  uint16
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "unknown"
	}
}

// Continues reports whether the caller may keep going after the action.
func (a Action) Continues() bool { return a != ActionFail }

// Decide applies s, treating a nil strategy as strict.
func Decide(ctx context.Context, s Strategy, err error, loc Location) Action {
	if s == nil {
		return ActionFail
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.OnError(ctx, err, loc)
}
