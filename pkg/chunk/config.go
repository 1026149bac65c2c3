package chunk

// DefaultMaxChunksPerMessage is the inbound chunk-count cap per
// spec.md §6.2.
const DefaultMaxChunksPerMessage = 12

// Config carries the buffer and size limits negotiated at HELLO/ACK
// (spec.md §4.3's buffer negotiation) plus the server-side receive caps.
type Config struct {
	ReceiveBufferSize     uint32
	SendBufferSize        uint32
	MaxReceiveMessageSize uint32
	MaxSendMessageSize    uint32
	MaxChunksPerMessage   uint32
	MaxReceiveChunkSize   uint32
}

// WithDefaults fills zero fields with the package defaults; zero stays
// zero for the size caps, which OPC UA treats as "unlimited".
func (c Config) WithDefaults() Config {
	if c.MaxChunksPerMessage == 0 {
		c.MaxChunksPerMessage = DefaultMaxChunksPerMessage
	}
	if c.MaxReceiveChunkSize == 0 {
		c.MaxReceiveChunkSize = c.ReceiveBufferSize
	}
	return c
}

// Negotiate applies the HELLO/ACK element-wise-minimum rule: each field
// becomes the smaller of the two proposals, with 0 (unlimited) losing to
// any finite proposal from the peer.
func Negotiate(local, remote Config) Config {
	return Config{
		ReceiveBufferSize:     minNonZero(local.ReceiveBufferSize, remote.ReceiveBufferSize),
		SendBufferSize:        minNonZero(local.SendBufferSize, remote.SendBufferSize),
		MaxReceiveMessageSize: minNonZero(local.MaxReceiveMessageSize, remote.MaxReceiveMessageSize),
		MaxSendMessageSize:    minNonZero(local.MaxSendMessageSize, remote.MaxSendMessageSize),
		MaxChunksPerMessage:   minNonZero(local.MaxChunksPerMessage, remote.MaxChunksPerMessage),
	}.WithDefaults()
}

func minNonZero(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
