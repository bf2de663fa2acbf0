package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/agentmux/internal/logx"
	"pkt.systems/agentmux/internal/muxbridge"
	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// Service is the session lifecycle controller: it owns one PTY-backed shell
// session per project and coordinates spawn, teardown, input, status hooks,
// and history replay.
type Service interface {
	StartSession(ctx context.Context, req schema.StartSessionRequest) (schema.StartSessionResponse, error)
	StopSession(ctx context.Context, req schema.StopSessionRequest) (schema.StopSessionResponse, error)
	SendInput(ctx context.Context, req schema.SendInputRequest) (schema.SendInputResponse, error)
	Resize(ctx context.Context, req schema.ResizeRequest) error
	HandleHookEvent(ctx context.Context, req schema.HookEventRequest) (schema.HookEventResponse, error)
	History(ctx context.Context, req schema.HistoryRequest) (schema.HistoryResponse, error)
	ProjectsState(ctx context.Context) []schema.SessionSnapshot
	Shutdown(ctx context.Context)
}

type service struct {
	cfg      schema.ServiceConfig
	runner   ProcessRunner
	mux      MuxBridge
	hooks    HookInstaller
	notifier Notifier
	sink     EventSink
	logger   pslog.Logger
	clock    func() time.Time
	focused  func() bool
	cooldown *cooldown

	mu       sync.Mutex
	sessions map[schema.ProjectID]*session
	stopping bool
}

// NewService constructs the session service.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Runner == nil {
		return nil, errors.New("process runner is required")
	}
	if deps.Mux == nil {
		return nil, errors.New("mux bridge is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		cfg:      cfg,
		runner:   deps.Runner,
		mux:      deps.Mux,
		hooks:    deps.Hooks,
		notifier: deps.Notifier,
		sink:     deps.EventSink,
		logger:   logger,
		clock:    clock,
		focused:  deps.Focused,
		cooldown: newCooldown(cfg.NotifyDebounce),
		sessions: make(map[schema.ProjectID]*session),
	}, nil
}

func (s *service) StartSession(ctx context.Context, req schema.StartSessionRequest) (schema.StartSessionResponse, error) {
	if err := schema.ValidateProjectID(req.ProjectID); err != nil {
		return schema.StartSessionResponse{}, err
	}
	log := logx.WithProject(ctx, req.ProjectID)

	name := string(req.DisplayName)
	if strings.TrimSpace(name) == "" {
		name = string(req.ProjectID)
	}
	muxName := muxbridge.SanitizeName(name)

	sess := &session{
		id:      req.ProjectID,
		name:    schema.ProjectName(name),
		path:    req.Path,
		muxName: muxName,
		state:   schema.StateRunning,
		history: newHistoryBuffer(req.ProjectID, s.cfg.BufferMaxBytes),
	}

	// The session is registered before the spawn so a concurrent start of the
	// same project resumes against this record instead of racing to a second
	// spawn. The registration is rolled back if the spawn fails.
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return schema.StartSessionResponse{}, schema.ErrShuttingDown
	}
	if existing := s.sessions[req.ProjectID]; existing != nil {
		snap := existing.Snapshot()
		historyLen := existing.history.Len()
		s.mu.Unlock()
		log.Info("session start resumed", "state", snap.State, "history_bytes", historyLen)
		return schema.StartSessionResponse{Session: snap, Resumed: true}, nil
	}
	if strings.TrimSpace(req.Path) == "" {
		s.mu.Unlock()
		return schema.StartSessionResponse{}, schema.ErrInvalidPath
	}
	sess.lastActivity = s.clock()
	s.sessions[req.ProjectID] = sess
	s.mu.Unlock()

	// Hook setup is best-effort: without hooks the session still runs, status
	// transitions just never arrive from this project.
	if s.hooks != nil {
		if err := s.hooks.Install(req.Path, string(req.ProjectID)); err != nil {
			log.Warn("hook setup failed, status events disabled for project", "err", err)
		}
	}

	// The probe only decides whether the create branch runs the startup
	// command. Attach-vs-create is resolved atomically by the shell command
	// itself, so a probe error is safe to treat as "not pre-existing".
	runStartup := true
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	exists, err := s.mux.SessionExists(probeCtx, muxName)
	cancel()
	if err != nil {
		log.Debug("mux existence probe failed", "err", err)
	} else if exists {
		runStartup = false
	}

	startup := s.providerCommand(req)
	command := s.mux.AttachOrCreate(muxName, req.Path, startup, runStartup)

	cb := ProcessCallbacks{
		OnData:  func(data []byte) { s.handleData(sess, data) },
		OnExit:  func(code int) { s.handleExit(sess, code) },
		OnError: func(err error) { s.handleProcessError(sess, err) },
	}
	proc, err := s.runner.SpawnShell(ctx, command, req.Path, nil, cb)
	if err != nil {
		s.mu.Lock()
		if current := s.sessions[req.ProjectID]; current == sess {
			delete(s.sessions, req.ProjectID)
		}
		s.mu.Unlock()
		log.Error("session spawn failed", "err", err)
		return schema.StartSessionResponse{}, fmt.Errorf("spawn session: %w", err)
	}

	s.mu.Lock()
	if current := s.sessions[req.ProjectID]; current != sess {
		// Stopped or exited while the spawn was in flight; the new handle
		// must not outlive the session.
		snap := sess.Snapshot()
		s.mu.Unlock()
		_ = proc.Kill()
		log.Info("session removed during spawn", "state", snap.State)
		return schema.StartSessionResponse{Session: snap}, nil
	}
	sess.proc = proc
	sess.lastActivity = s.clock()
	snap := sess.Snapshot()
	s.mu.Unlock()

	s.emitState(schema.StateEvent{ProjectID: req.ProjectID, State: schema.StateRunning, Timestamp: snap.LastActivity})
	log.Info("session started", "mux_session", muxName, "run_startup", runStartup)

	if strings.TrimSpace(req.RunCommand) != "" {
		s.startRunner(ctx, sess, req.RunCommand)
	}
	return schema.StartSessionResponse{Session: snap}, nil
}

// startRunner spawns the project-configured companion process. Its exit or
// error only clears the tracking handle and never affects the session.
func (s *service) startRunner(ctx context.Context, sess *session, command string) {
	log := logx.WithProject(ctx, sess.id)
	handle, err := s.runner.SpawnBackground(ctx, command, sess.path, func(err error) {
		s.mu.Lock()
		if current := s.sessions[sess.id]; current == sess {
			sess.runner = nil
		}
		s.mu.Unlock()
		if err != nil {
			log.Debug("run command finished", "err", err)
		}
	})
	if err != nil {
		log.Warn("run command spawn failed", "err", err)
		return
	}
	s.mu.Lock()
	if current := s.sessions[sess.id]; current == sess {
		sess.runner = handle
		s.mu.Unlock()
		log.Info("run command started")
		return
	}
	s.mu.Unlock()
	// Session vanished while spawning; do not leak the process.
	_ = handle.Kill()
}

func (s *service) StopSession(ctx context.Context, req schema.StopSessionRequest) (schema.StopSessionResponse, error) {
	if err := schema.ValidateProjectID(req.ProjectID); err != nil {
		return schema.StopSessionResponse{}, err
	}
	log := logx.WithProject(ctx, req.ProjectID)

	s.mu.Lock()
	sess := s.sessions[req.ProjectID]
	if sess == nil {
		s.mu.Unlock()
		return schema.StopSessionResponse{}, schema.ErrProjectNotFound
	}
	delete(s.sessions, req.ProjectID)
	proc := sess.proc
	runner := sess.runner
	muxName := sess.muxName
	sess.proc = nil
	sess.runner = nil
	sess.state = schema.StateIdle
	sess.lastActivity = s.clock()
	snap := sess.Snapshot()
	s.mu.Unlock()

	// The three teardown steps are independent: a failure in one never
	// prevents the others, and the in-memory session is already stopped.
	if proc != nil {
		if err := proc.Kill(); err != nil {
			log.Warn("session process kill failed", "err", err)
		}
	}
	if runner != nil {
		if err := runner.Kill(); err != nil {
			log.Warn("run command kill failed", "err", err)
		}
	}
	killCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	if err := s.mux.KillSession(killCtx, muxName); err != nil {
		log.Warn("mux session kill failed", "mux_session", muxName, "err", err)
	}
	cancel()

	s.emitState(schema.StateEvent{ProjectID: req.ProjectID, State: schema.StateIdle, Timestamp: snap.LastActivity})
	log.Info("session stopped")
	return schema.StopSessionResponse{Session: snap}, nil
}

func (s *service) SendInput(ctx context.Context, req schema.SendInputRequest) (schema.SendInputResponse, error) {
	s.mu.Lock()
	sess := s.sessions[req.ProjectID]
	var proc ProcessHandle
	if sess != nil {
		proc = sess.proc
	}
	s.mu.Unlock()
	if proc == nil {
		return schema.SendInputResponse{Delivered: false}, nil
	}
	if _, err := proc.Write(req.Data); err != nil {
		logx.WithProject(ctx, req.ProjectID).Warn("session input write failed", "err", err)
		return schema.SendInputResponse{Delivered: false}, nil
	}
	return schema.SendInputResponse{Delivered: true}, nil
}

func (s *service) Resize(ctx context.Context, req schema.ResizeRequest) error {
	s.mu.Lock()
	sess := s.sessions[req.ProjectID]
	var proc ProcessHandle
	if sess != nil {
		proc = sess.proc
	}
	s.mu.Unlock()
	if proc == nil {
		return schema.ErrProjectNotFound
	}
	if err := proc.Resize(req.Cols, req.Rows); err != nil {
		logx.WithProject(ctx, req.ProjectID).Debug("session resize failed", "err", err)
		return err
	}
	return nil
}

func (s *service) HandleHookEvent(ctx context.Context, req schema.HookEventRequest) (schema.HookEventResponse, error) {
	if err := schema.ValidateProjectID(req.ProjectID); err != nil {
		return schema.HookEventResponse{}, err
	}
	state := schema.StateForHookEvent(req.Kind)
	log := logx.WithState(logx.WithProject(ctx, req.ProjectID), state).With("hook", req.Kind)

	now := s.clock()
	s.mu.Lock()
	sess := s.sessions[req.ProjectID]
	if sess == nil {
		s.mu.Unlock()
		log.Debug("hook event for unknown project")
		return schema.HookEventResponse{}, schema.ErrProjectNotFound
	}
	sess.lastActivity = now
	if state != schema.StateUnknown {
		sess.state = state
	}
	name := sess.name
	s.mu.Unlock()

	s.emitState(schema.StateEvent{ProjectID: req.ProjectID, State: state, Hook: req.Kind, Timestamp: now})
	log.Info("hook event")

	if state == schema.StateReady {
		s.maybeNotify(req.ProjectID, now, fmt.Sprintf("%s is ready", name), "The agent is waiting for your input")
	}
	return schema.HookEventResponse{State: state}, nil
}

func (s *service) History(ctx context.Context, req schema.HistoryRequest) (schema.HistoryResponse, error) {
	s.mu.Lock()
	sess := s.sessions[req.ProjectID]
	if sess == nil {
		s.mu.Unlock()
		return schema.HistoryResponse{}, schema.ErrProjectNotFound
	}
	chunks, nextSeq := sess.history.Snapshot()
	s.mu.Unlock()
	return schema.HistoryResponse{Chunks: chunks, NextSeq: nextSeq}, nil
}

func (s *service) ProjectsState(ctx context.Context) []schema.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]schema.SessionSnapshot, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	return snaps
}

// Shutdown tears down all sessions: named mux sessions first, then process
// handles, then companion processes. Every failure is swallowed; shutdown
// never blocks application exit.
func (s *service) Shutdown(ctx context.Context) {
	log := pslog.Ctx(ctx)
	s.mu.Lock()
	s.stopping = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[schema.ProjectID]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		killCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
		if err := s.mux.KillSession(killCtx, sess.muxName); err != nil {
			log.Warn("shutdown mux kill failed", "project", sess.id, "err", err)
		}
		cancel()
	}
	for _, sess := range sessions {
		if sess.proc != nil {
			if err := sess.proc.Kill(); err != nil {
				log.Warn("shutdown process kill failed", "project", sess.id, "err", err)
			}
		}
	}
	for _, sess := range sessions {
		if sess.runner != nil {
			if err := sess.runner.Kill(); err != nil {
				log.Warn("shutdown run command kill failed", "project", sess.id, "err", err)
			}
		}
	}
	log.Info("sessions shut down", "count", len(sessions))
}

// handleData appends a chunk to the session history and broadcasts it. Stale
// callbacks from a process killed before a restart are dropped: the session
// pointer must still be the registered one.
func (s *service) handleData(sess *session, data []byte) {
	s.mu.Lock()
	if current := s.sessions[sess.id]; current != sess {
		s.mu.Unlock()
		return
	}
	event := sess.history.Append(string(data), schema.OutputStdout)
	s.mu.Unlock()
	s.emitOutput(event)
}

// handleProcessError surfaces a process-level error as a single error-typed
// output line. It is non-fatal to the rest of the system.
func (s *service) handleProcessError(sess *session, err error) {
	s.mu.Lock()
	if current := s.sessions[sess.id]; current != sess {
		s.mu.Unlock()
		return
	}
	event := sess.history.Append(fmt.Sprintf("\r\n[error] %v\r\n", err), schema.OutputError)
	s.mu.Unlock()
	s.emitOutput(event)
}

func (s *service) handleExit(sess *session, code int) {
	now := s.clock()
	s.mu.Lock()
	if current := s.sessions[sess.id]; current != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.id)
	runner := sess.runner
	sess.proc = nil
	sess.runner = nil
	if code == 0 {
		sess.state = schema.StateCompleted
	} else {
		sess.state = schema.StateError
	}
	state := sess.state
	name := sess.name
	sess.lastActivity = now
	s.mu.Unlock()

	if runner != nil {
		_ = runner.Kill()
	}

	s.emitExit(schema.ExitEvent{ProjectID: sess.id, Code: code, Timestamp: now})
	s.emitState(schema.StateEvent{ProjectID: sess.id, State: state, Timestamp: now})
	logx.WithState(pslog.Ctx(context.Background()).With("project", sess.id), state).Info("session exited", "code", code)

	if code != 0 {
		s.maybeNotify(sess.id, now, fmt.Sprintf("%s exited", name), fmt.Sprintf("Process exited with code %d", code))
	}
}

// maybeNotify shows an OS notification unless the desktop window is focused
// or the per-project cooldown window has not elapsed.
func (s *service) maybeNotify(projectID schema.ProjectID, now time.Time, title, body string) {
	if s.notifier == nil {
		return
	}
	if s.focused != nil && s.focused() {
		return
	}
	if !s.cooldown.ShouldNotify(projectID, now) {
		return
	}
	if err := s.notifier.Notify(title, body); err != nil {
		s.logger.Debug("notification failed", "project", projectID, "err", err)
	}
}

func (s *service) providerCommand(req schema.StartSessionRequest) string {
	if strings.TrimSpace(req.Command) != "" {
		return req.Command
	}
	parts := []string{s.cfg.Provider}
	parts = append(parts, s.cfg.ProviderArgs...)
	if req.YoloMode {
		parts = append(parts, "--dangerously-skip-permissions")
	}
	return strings.Join(parts, " ")
}

func (s *service) emitOutput(event schema.OutputEvent) {
	if s.sink != nil {
		s.sink.OnOutput(event)
	}
}

func (s *service) emitState(event schema.StateEvent) {
	if s.sink != nil {
		s.sink.OnState(event)
	}
}

func (s *service) emitExit(event schema.ExitEvent) {
	if s.sink != nil {
		s.sink.OnExit(event)
	}
}
