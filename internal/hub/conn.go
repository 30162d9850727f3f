package hub

// FrameKind classifies frames crossing a client connection.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

// Frame is one unit on the client connection, transport-agnostic.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Conn is the transport side of one client connection. Read blocks until
// the next frame or a transport error; Close unblocks a pending Read.
type Conn interface {
	Read() (Frame, error)
	Write(Frame) error
	Close() error
}
