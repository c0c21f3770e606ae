package transport

// Conn carries envelopes between a bridge server and one client. WSConn is
// the websocket implementation.
type Conn interface {
	ReadEnvelope() (*Envelope, error)
	WriteEnvelope(*Envelope) error
	Close() error
}

var _ Conn = (*WSConn)(nil)
