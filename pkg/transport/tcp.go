package transport

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
)

// TCPSocket is the default Socket implementation: a real net.Conn per
// handle, framed per the OPC UA 8-byte transport header. It serves both
// roles: Open dials out (client), Listen accepts inbound connections
// (server); either role delivers EventConnected/Bytes/Disconnected to
// the same Handler.
type TCPSocket struct {
	handler Handler
	log     logging.LeveledLogger

	maxReceiveChunkSize uint32

	mu       sync.RWMutex
	conns    map[Handle]*tcpConn
	nextH    uint64
	closed   bool

	listener net.Listener
	acceptWG sync.WaitGroup
	stopCh   chan struct{}
}

type tcpConn struct {
	conn net.Conn
	mu   sync.Mutex // serializes Write calls on this connection
}

// TCPSocketConfig configures a TCPSocket.
type TCPSocketConfig struct {
	// Handler receives socket events. Required.
	Handler Handler
	// MaxReceiveChunkSize rejects any declared chunk size above it with
	// ErrMessageTooLarge; 0 disables the check.
	MaxReceiveChunkSize uint32
	// LoggerFactory is the factory for creating loggers. If nil,
	// logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewTCPSocket constructs a TCPSocket. It does not listen or dial until
// Listen or Open is called.
func NewTCPSocket(cfg TCPSocketConfig) (*TCPSocket, error) {
	if cfg.Handler == nil {
		return nil, ErrNoHandler
	}
	t := &TCPSocket{
		handler:             cfg.Handler,
		maxReceiveChunkSize: cfg.MaxReceiveChunkSize,
		conns:               make(map[Handle]*tcpConn),
		stopCh:              make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		t.log = cfg.LoggerFactory.NewLogger("transport-tcp")
	}
	return t, nil
}

// Listen starts accepting inbound connections on addr (server role).
// Each accepted connection fires EventConnected with a fresh Handle.
func (t *TCPSocket) Listen(addr string) (net.Addr, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if t.listener != nil {
		t.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.listener = listener
	t.mu.Unlock()

	if t.log != nil {
		t.log.Infof("listening on %s", listener.Addr())
	}

	t.acceptWG.Add(1)
	go t.acceptLoop()

	return listener.Addr(), nil
}

func (t *TCPSocket) acceptLoop() {
	defer t.acceptWG.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				continue
			}
		}
		t.register(conn)
	}
}

// Open dials addr (client role) and returns its handle once connected.
func (t *TCPSocket) Open(addr string) (Handle, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return 0, ErrClosed
	}
	t.mu.RUnlock()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return 0, err
	}
	return t.register(conn), nil
}

func (t *TCPSocket) register(conn net.Conn) Handle {
	h := Handle(atomic.AddUint64(&t.nextH, 1))
	tc := &tcpConn{conn: conn}

	t.mu.Lock()
	t.conns[h] = tc
	t.mu.Unlock()

	t.acceptWG.Add(1)
	go t.readLoop(h, tc)

	t.handler(Event{Kind: EventConnected, Handle: h})
	return h
}

func (t *TCPSocket) readLoop(h Handle, tc *tcpConn) {
	defer t.acceptWG.Done()
	for {
		chunk, err := readChunk(tc.conn, t.maxReceiveChunkSize)
		if err != nil {
			t.unregister(h)
			tc.conn.Close()
			if err == io.EOF {
				t.handler(Event{Kind: EventDisconnected, Handle: h})
			} else {
				t.handler(Event{Kind: EventDisconnected, Handle: h, Status: err})
			}
			return
		}
		t.handler(Event{Kind: EventBytes, Handle: h, Bytes: chunk})
	}
}

func (t *TCPSocket) unregister(h Handle) {
	t.mu.Lock()
	delete(t.conns, h)
	t.mu.Unlock()
}

// Write writes buffer on h.
func (t *TCPSocket) Write(h Handle, buffer []byte) error {
	t.mu.RLock()
	tc, ok := t.conns[h]
	t.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	tc.mu.Lock()
	_, err := tc.conn.Write(buffer)
	tc.mu.Unlock()
	if err != nil {
		return err
	}
	t.handler(Event{Kind: EventWriteCompleted, Handle: h})
	return nil
}

// Close tears down h; idempotent.
func (t *TCPSocket) Close(h Handle) error {
	t.mu.Lock()
	tc, ok := t.conns[h]
	if ok {
		delete(t.conns, h)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return tc.conn.Close()
}

// Shutdown stops accepting new connections and closes every tracked one.
func (t *TCPSocket) Shutdown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	listener := t.listener
	conns := t.conns
	t.conns = make(map[Handle]*tcpConn)
	t.mu.Unlock()

	close(t.stopCh)
	if listener != nil {
		listener.Close()
	}
	for _, tc := range conns {
		tc.conn.Close()
	}
	t.acceptWG.Wait()
	return nil
}

var _ Socket = (*TCPSocket)(nil)
