package transport

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// pipeTickInterval mirrors the teacher's default Pipe auto-process
// interval: short enough that dispatcher tests see delivery as
// effectively synchronous.
const pipeTickInterval = time.Millisecond

// PipeSocket is an in-memory Socket wrapping one side of a
// pion/transport virtual-network bridge, used by the dispatcher
// scenario tests so they exercise the same chunk-framing code path as
// TCPSocket without opening a real connection. Grounded on the
// teacher's Pipe/PipeFactory auto-processing pattern, reduced to the
// one fixed peer this core's tests need (no network-condition
// simulation: that's the teacher's concern, not this core's).
type PipeSocket struct {
	conn                net.Conn
	handler             Handler
	handle              Handle
	maxReceiveChunkSize uint32
	hub                 *pipeHub

	mu      sync.Mutex
	started bool
	closed  bool
}

// pipeHub owns the bridge's auto-process goroutine shared by a socket
// pair; it stops once both sides have closed.
type pipeHub struct {
	stopCh    chan struct{}
	once      sync.Once
	mu        sync.Mutex
	closeCount int
}

func newPipeHub(bridge *test.Bridge) *pipeHub {
	h := &pipeHub{stopCh: make(chan struct{})}
	go h.pump(bridge)
	return h
}

func (h *pipeHub) pump(bridge *test.Bridge) {
	ticker := time.NewTicker(pipeTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			bridge.Tick()
		}
	}
}

func (h *pipeHub) closeOne() {
	h.mu.Lock()
	h.closeCount++
	done := h.closeCount >= 2
	h.mu.Unlock()
	if done {
		h.once.Do(func() { close(h.stopCh) })
	}
}

// NewPipeSocketPair wires a server-side and client-side PipeSocket to
// each other. The server side is treated as already accepted: it starts
// reading and fires EventConnected immediately. The client side waits
// for an explicit Open call, mirroring a real dial.
func NewPipeSocketPair(serverHandler, clientHandler Handler, maxReceiveChunkSize uint32) (server, client *PipeSocket) {
	bridge := test.NewBridge()
	hub := newPipeHub(bridge)

	server = &PipeSocket{conn: bridge.GetConn0(), handler: serverHandler, handle: 1, maxReceiveChunkSize: maxReceiveChunkSize, hub: hub}
	client = &PipeSocket{conn: bridge.GetConn1(), handler: clientHandler, handle: 1, maxReceiveChunkSize: maxReceiveChunkSize, hub: hub}

	server.mu.Lock()
	server.started = true
	server.mu.Unlock()
	go server.readLoop()
	server.handler(Event{Kind: EventConnected, Handle: server.handle})

	return server, client
}

// Open starts the client side's read loop and fires its own
// EventConnected; url is ignored since the peer is fixed at pair
// creation.
func (p *PipeSocket) Open(url string) (Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return 0, ErrAlreadyConnected
	}
	p.started = true
	p.mu.Unlock()

	go p.readLoop()
	p.handler(Event{Kind: EventConnected, Handle: p.handle})
	return p.handle, nil
}

func (p *PipeSocket) readLoop() {
	for {
		chunk, err := readChunk(p.conn, p.maxReceiveChunkSize)
		if err != nil {
			p.mu.Lock()
			alreadyClosed := p.closed
			p.closed = true
			p.mu.Unlock()
			p.conn.Close()
			if !alreadyClosed {
				if p.hub != nil {
					p.hub.closeOne()
				}
				if err == io.EOF {
					p.handler(Event{Kind: EventDisconnected, Handle: p.handle})
				} else {
					p.handler(Event{Kind: EventDisconnected, Handle: p.handle, Status: err})
				}
			}
			return
		}
		p.handler(Event{Kind: EventBytes, Handle: p.handle, Bytes: chunk})
	}
}

// Write writes buffer to the peer; h is ignored beyond validating it
// matches this socket's single handle.
func (p *PipeSocket) Write(h Handle, buffer []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || h != p.handle {
		return ErrNotConnected
	}
	if _, err := p.conn.Write(buffer); err != nil {
		return err
	}
	p.handler(Event{Kind: EventWriteCompleted, Handle: h})
	return nil
}

// Close closes this side of the pipe; idempotent.
func (p *PipeSocket) Close(h Handle) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if p.hub != nil {
		p.hub.closeOne()
	}
	return p.conn.Close()
}

var _ Socket = (*PipeSocket)(nil)
