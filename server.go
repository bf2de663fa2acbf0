// Package agentmux composes the session service, the broadcast transports,
// and the HTTP surface into one runnable server.
package agentmux

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"pkt.systems/agentmux/core"
	"pkt.systems/agentmux/desktop"
	"pkt.systems/agentmux/httpapi"
	"pkt.systems/agentmux/internal/depcheck"
	"pkt.systems/agentmux/internal/eventbus"
	"pkt.systems/agentmux/internal/hookbridge"
	"pkt.systems/agentmux/internal/muxbridge"
	"pkt.systems/agentmux/internal/notify"
	"pkt.systems/agentmux/internal/persist"
	"pkt.systems/agentmux/internal/ptyproc"
	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// Server composes the HTTP transport and the session service.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
	// HookEndpoint is the base URL the agent hooks call back to. Derived
	// from the HTTP address when empty.
	HookEndpoint string
}

// ServerDeps captures dependencies required to build the server. Zero values
// select production implementations.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
	// DesktopSender receives typed desktop events. Nil means no desktop
	// window is attached; the channel then only tracks focus state.
	DesktopSender desktop.Sender
}

// New constructs a composable agentmux server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized
	if cfg.HTTP.TestCommandTimeout <= 0 {
		cfg.HTTP.TestCommandTimeout = cfg.Service.TestCommandTimeout
	}
	if cfg.HookEndpoint == "" {
		cfg.HookEndpoint = hookEndpointFor(cfg.HTTP.Addr)
	}

	logger := deps.ServiceDeps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	store, err := persist.NewStore(cfg.Service.StateDir, logger)
	if err != nil {
		return nil, err
	}

	serviceDeps := deps.ServiceDeps
	if serviceDeps.Runner == nil {
		serviceDeps.Runner = ptyproc.NewRunner(logger)
	}
	if serviceDeps.Mux == nil {
		serviceDeps.Mux = muxbridge.New(cfg.Service.TmuxBinary, logger)
	}
	if serviceDeps.Hooks == nil {
		installer, err := hookbridge.NewInstaller(cfg.HookEndpoint, cfg.Service.StateDir, logger)
		if err != nil {
			return nil, err
		}
		serviceDeps.Hooks = installer
	}
	if serviceDeps.Notifier == nil {
		serviceDeps.Notifier = settingsGatedNotifier{
			store:    store,
			notifier: notify.New(logger),
		}
	}

	bus := eventbus.New(logger)
	channel := desktop.NewChannel(bus, deps.DesktopSender, logger)
	if serviceDeps.Focused == nil {
		serviceDeps.Focused = channel.Focused
	}

	// The service publishes once; the fanout feeds the network hub directly
	// and everything else through the bus. The hub is appended after service
	// construction (it needs the service for consumer requests), before any
	// session can publish.
	sinks := make([]core.EventSink, 0, 3)
	if serviceDeps.EventSink != nil {
		sinks = append(sinks, serviceDeps.EventSink)
	}
	sinks = append(sinks, bus)
	fanout := &eventFanout{sinks: sinks}
	serviceDeps.EventSink = fanout

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	hub := httpapi.NewHub(service, store, logger)
	fanout.sinks = append(fanout.sinks, hub)

	checker := depcheck.New(logger, cfg.Service.TmuxBinary, cfg.Service.Provider, "git")
	httpSrv := httpapi.NewServer(cfg.HTTP, service, store, hub, checker, hookbridge.Handler(service))

	return &compositeServer{
		cfg:     cfg,
		service: service,
		httpSrv: httpSrv,
		channel: channel,
		checker: checker,
	}, nil
}

// hookEndpointFor derives the local callback URL from the listen address.
func hookEndpointFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

// settingsGatedNotifier drops notifications when the user disabled them.
type settingsGatedNotifier struct {
	store    *persist.Store
	notifier core.Notifier
}

func (n settingsGatedNotifier) Notify(title, body string) error {
	if !n.store.Settings().NotificationsEnabled() {
		return nil
	}
	return n.notifier.Notify(title, body)
}

type compositeServer struct {
	cfg     ServerConfig
	service core.Service
	httpSrv *httpapi.Server
	channel *desktop.Channel
	checker *depcheck.Checker
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info("server start", "http_addr", s.cfg.HTTP.Addr, "state_dir", s.cfg.Service.StateDir, "provider", s.cfg.Service.Provider)

	s.channel.Start()
	if missing := s.checker.Missing(s.ctx); len(missing) > 0 {
		s.channel.ReportMissing(missing)
	}

	go func() {
		if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	s.service.Shutdown(context.Background())
	s.channel.Stop()
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
