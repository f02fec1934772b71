// Package acceptor runs the per-instrument TCP listener that accepts
// incoming connections, enforces the single-active-session-per-
// instrument policy, and hands each accepted socket to a connection
// factory.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/metrics"
)

// acceptTimeout bounds each Accept call so the listener's loop can
// observe context cancellation promptly during shutdown instead of
// blocking indefinitely in the kernel.
const acceptTimeout = 2 * time.Second

// tcpKeepAlivePeriod is applied to every accepted socket so a dead
// instrument link is detected by the OS even if the instrument never
// sends anything at the ASTM layer.
const tcpKeepAlivePeriod = 30 * time.Second

// ConnHandler is implemented by the gateway's connection package; kept
// as a narrow interface here so the acceptor has no import-time
// dependency on connection's internals.
type ConnHandler interface {
	Serve(ctx context.Context)
	Stop()
	IsConnected() bool
	IsBusy() bool
	StateName() string
	CanAcceptOrders() bool
	EnqueueOutgoing(text []byte) bool
}

// HandlerFactory builds a ConnHandler for a newly accepted socket.
type HandlerFactory func(conn net.Conn, instrument string) ConnHandler

// Instrument describes one instrument's listening configuration.
type Instrument struct {
	Name string
	Port int
}

// Acceptor owns one TCP listener per configured instrument and enforces
// that at most one connection handler is live for a given instrument at
// a time, refusing and closing any additional connection attempt
// immediately.
type Acceptor struct {
	instruments []Instrument
	factory     HandlerFactory
	metrics     metrics.Recorder

	mu       sync.Mutex
	active   map[string]ConnHandler
	listeners []net.Listener
	wg       sync.WaitGroup
}

// New constructs an Acceptor for instruments, building connection
// handlers via factory.
func New(instruments []Instrument, factory HandlerFactory, rec metrics.Recorder) *Acceptor {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Acceptor{
		instruments: instruments,
		factory:     factory,
		metrics:     rec,
		active:      make(map[string]ConnHandler),
	}
}

// Serve starts one accept loop per configured instrument and blocks
// until ctx is cancelled, at which point every listener is closed and
// every live connection handler is stopped before Serve returns.
func (a *Acceptor) Serve(ctx context.Context) error {
	for _, inst := range a.instruments {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", inst.Port))
		if err != nil {
			a.mu.Lock()
			for _, open := range a.listeners {
				_ = open.Close()
			}
			a.mu.Unlock()
			return fmt.Errorf("acceptor: listen for %s on port %d: %w", inst.Name, inst.Port, err)
		}
		a.mu.Lock()
		a.listeners = append(a.listeners, ln)
		a.mu.Unlock()

		a.wg.Add(1)
		go a.acceptLoop(ctx, ln, inst.Name)
	}

	<-ctx.Done()

	a.mu.Lock()
	for _, ln := range a.listeners {
		_ = ln.Close()
	}
	handlers := make([]ConnHandler, 0, len(a.active))
	for _, h := range a.active {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()

	for _, h := range handlers {
		h.Stop()
	}

	a.wg.Wait()
	return nil
}

func (a *Acceptor) acceptLoop(ctx context.Context, ln net.Listener, instrument string) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if tcpLn, ok := ln.(*net.TCPListener); ok {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
				logger.Error("accept failed", logger.Instrument(instrument), logger.Err(err))
				continue
			}
		}

		a.handleAccepted(ctx, conn, instrument)
	}
}

// Lookup returns the live connection handler for instrument, if any.
// The gateway wraps it in an adapter to satisfy
// dispatch.ConnectionLookup, whose Lookup returns dispatch.Handler.
func (a *Acceptor) Lookup(instrument string) (ConnHandler, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.active[instrument]
	return h, ok
}

// ActiveInstruments returns the names of instruments with a live
// session, for the status surface.
func (a *Acceptor) ActiveInstruments() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for name := range a.active {
		out = append(out, name)
	}
	return out
}

func (a *Acceptor) handleAccepted(ctx context.Context, conn net.Conn, instrument string) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(tcpKeepAlivePeriod)
	}

	a.mu.Lock()
	if _, busy := a.active[instrument]; busy {
		a.mu.Unlock()
		logger.Warn("rejecting connection, instrument already has an active session",
			logger.Instrument(instrument), logger.RemoteAddr(conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}

	handler := a.factory(conn, instrument)
	a.active[instrument] = handler
	a.mu.Unlock()

	a.metrics.ConnectionOpened(instrument)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		handler.Serve(ctx)

		a.mu.Lock()
		delete(a.active, instrument)
		a.mu.Unlock()
		a.metrics.ConnectionClosed(instrument)
	}()
}
