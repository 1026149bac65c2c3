package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/systerel/s2opc-go/pkg/transport"
)

func TestLoopDeliversEventsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []Kind
	delivered := make(chan struct{})

	l := New(Config{
		Handler: func(e Event) {
			mu.Lock()
			order = append(order, e.Kind)
			if len(order) == 3 {
				close(delivered)
			}
			mu.Unlock()
		},
	})
	go l.Run()

	l.PostSocketEvent(transport.Event{Kind: transport.EventConnected, Handle: 1})
	l.PostApp(func() {})
	l.PostSocketEvent(transport.Event{Kind: transport.EventBytes, Handle: 1})

	// RequestStop does not drain the queue, so wait for delivery first.
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
	}
	l.RequestStop()
	l.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("delivered %d events, want 3: %v", len(order), order)
	}
	if order[0] != KindSocket || order[1] != KindApp || order[2] != KindSocket {
		t.Fatalf("order = %v, want [Socket App Socket]", order)
	}
}

func TestLoopTimerFires(t *testing.T) {
	fired := make(chan uint64, 1)
	l := New(Config{
		Handler: func(e Event) {
			if e.Kind == KindTimer {
				fired <- e.TimerID
			}
		},
	})
	go l.Run()
	defer func() { l.RequestStop(); l.Wait() }()

	id := l.AfterFunc(10 * time.Millisecond)

	select {
	case got := <-fired:
		if got != id {
			t.Fatalf("fired timer id = %d, want %d", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoopCanceledTimerDoesNotFire(t *testing.T) {
	fired := make(chan struct{}, 1)
	l := New(Config{
		Handler: func(e Event) {
			if e.Kind == KindTimer {
				fired <- struct{}{}
			}
		},
	})
	go l.Run()
	defer func() { l.RequestStop(); l.Wait() }()

	id := l.AfterFunc(20 * time.Millisecond)
	l.CancelTimer(id)

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopHandlerCanRequestStop(t *testing.T) {
	l := New(Config{
		Handler: func(e Event) {
			if e.Kind == KindApp {
				l.RequestStop()
			}
		},
	})
	go l.Run()

	l.PostApp(func() {})

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never stopped after handler called RequestStop")
	}
}
