package bridge

const (
	// ChannelSessionInit tells a client which player it controls.
	ChannelSessionInit = "sessionInit"
	// ChannelHeartbeat keeps a connection alive; it is never delivered.
	ChannelHeartbeat = "heartbeat"
)

func asID(v any) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	default:
		return 0, false
	}
}
