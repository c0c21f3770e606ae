package transport

import "game-framework/internal/host"

// WireArgs replaces entities by their ids so the envelope codec can carry them.
func WireArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if e, ok := a.(host.Entity); ok {
			out[i] = e.ID()
			continue
		}
		out[i] = a
	}
	return out
}
