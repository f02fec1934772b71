// Package gateway wires the instrument gateway together: per-instrument
// TCP acceptors feeding the inbound pipeline, the order dispatcher
// consuming from the broker, and the background retry workers, all
// sharing one store and one broker connection.
package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/astmgw/gateway/internal/config"
	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/metrics"
	"github.com/astmgw/gateway/internal/protocol/astm"
	"github.com/astmgw/gateway/pkg/broker"
	"github.com/astmgw/gateway/pkg/gateway/acceptor"
	"github.com/astmgw/gateway/pkg/gateway/connection"
	"github.com/astmgw/gateway/pkg/gateway/dispatch"
	"github.com/astmgw/gateway/pkg/gateway/pipeline"
	"github.com/astmgw/gateway/pkg/store"
)

// queueBinder is the optional binding surface an embedded broker
// exposes; external brokers carry their bindings in server-side
// configuration instead.
type queueBinder interface {
	Bind(exchange, routingKey, queue string)
}

// Gateway is the assembled service.
type Gateway struct {
	store       store.Store
	broker      broker.Broker
	metrics     metrics.Recorder
	acceptor    *acceptor.Acceptor
	pipeline    *pipeline.Pipeline
	dispatcher  *dispatch.Dispatcher
	republisher *pipeline.Republisher
	instruments []config.InstrumentConfig

	// mu guards byName, which a live config reload may swap while the
	// acceptor factory reads it for a new connection. Ports and driver
	// identifiers stay fixed for the process lifetime; only tunables
	// like the keep-alive interval follow a reload, and only for
	// connections accepted afterwards.
	mu     sync.Mutex
	byName map[string]config.InstrumentConfig
}

// connLookup adapts the acceptor's handler map to the dispatcher's
// lookup interface.
type connLookup struct {
	a *acceptor.Acceptor
}

func (l connLookup) Lookup(instrument string) (dispatch.Handler, bool) {
	h, ok := l.a.Lookup(instrument)
	if !ok {
		return nil, false
	}
	return h, true
}

// New assembles a Gateway from its already-opened collaborators. Every
// enabled instrument's driver identifier is resolved here so a typo in
// configuration fails startup instead of the first connection.
func New(cfg *config.Config, st store.Store, b broker.Broker, rec metrics.Recorder) (*Gateway, error) {
	if rec == nil {
		rec = metrics.NoOp{}
	}

	var enabled []config.InstrumentConfig
	routes := make(map[string]pipeline.Route)
	for _, inst := range cfg.Instruments {
		if !inst.Enabled {
			continue
		}
		if _, err := astm.NewDriver(inst.DriverIdentifier); err != nil {
			return nil, fmt.Errorf("gateway: instrument %s: %w", inst.Name, err)
		}
		enabled = append(enabled, inst)
		routes[inst.Name] = pipeline.Route{Exchange: inst.Exchange, RoutingKey: inst.RoutingKey}
	}

	p := pipeline.New(st, b, rec)
	p.SetMessagingEnabled(cfg.MessagingEnabled)

	g := &Gateway{
		store:       st,
		broker:      b,
		metrics:     rec,
		pipeline:    p,
		republisher: pipeline.NewRepublisher(st, b, routes, rec),
		instruments: enabled,
		byName:      make(map[string]config.InstrumentConfig, len(enabled)),
	}

	listeners := make([]acceptor.Instrument, 0, len(enabled))
	for _, inst := range enabled {
		listeners = append(listeners, acceptor.Instrument{Name: inst.Name, Port: inst.Port})
		g.byName[inst.Name] = inst
	}

	g.acceptor = acceptor.New(listeners, func(conn net.Conn, instrument string) acceptor.ConnHandler {
		g.mu.Lock()
		inst := g.byName[instrument]
		g.mu.Unlock()
		driver, err := astm.NewDriver(inst.DriverIdentifier)
		if err != nil {
			// Resolved at New; can only fail if the registry mutated
			// at runtime.
			logger.Error("driver instantiation failed", logger.Instrument(instrument), logger.Err(err))
			driver = nil
		}
		return connection.New(conn, connection.Config{
			Instrument:        instrument,
			KeepAliveInterval: inst.KeepAliveInterval,
			Driver:            driver,
			Route:             routes[instrument],
		}, g.pipeline, rec)
	}, rec)

	g.dispatcher = dispatch.New(st, connLookup{a: g.acceptor}, rec)
	return g, nil
}

// ApplyConfig adopts the reloadable subset of a live configuration
// change: the messaging flag immediately, and per-instrument tunables
// (keep-alive interval) for connections accepted after this point.
// Ports, driver identifiers and the instrument set itself stay fixed
// until restart.
func (g *Gateway) ApplyConfig(cfg *config.Config) {
	g.pipeline.SetMessagingEnabled(cfg.MessagingEnabled)

	g.mu.Lock()
	for _, inst := range cfg.Instruments {
		if existing, ok := g.byName[inst.Name]; ok && existing.Port == inst.Port {
			existing.KeepAliveIntervalMinutes = inst.KeepAliveIntervalMinutes
			existing.KeepAliveInterval = inst.KeepAliveInterval
			g.byName[inst.Name] = existing
		}
	}
	g.mu.Unlock()

	logger.Info("configuration reloaded")
}

// Acceptor exposes the live-handler surface for status reporting.
func (g *Gateway) Acceptor() *acceptor.Acceptor { return g.acceptor }

// Run binds every instrument port, starts the dispatcher and
// republisher workers, subscribes order queues, and blocks until ctx
// is cancelled. A port that cannot be bound fails Run immediately.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if binder, ok := g.broker.(queueBinder); ok {
		for _, inst := range g.instruments {
			binder.Bind(inst.Exchange, inst.RoutingKey, inst.ResultQueue)
		}
	}

	var unsubs []func()
	for _, inst := range g.instruments {
		if inst.OrderQueue == "" {
			continue
		}
		unsubs = append(unsubs, g.broker.Subscribe(inst.OrderQueue, g.dispatcher.HandleDelivery))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		g.republisher.Run(ctx)
	}()

	logger.Info("gateway started", logger.Operation("serve"))
	err := g.acceptor.Serve(ctx)

	cancel()
	wg.Wait()
	return err
}
