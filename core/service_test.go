package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/agentmux/schema"
)

type fakeProc struct {
	mu     sync.Mutex
	writes [][]byte
	killed int
	cols   uint16
	rows   uint16
	fail   error
}

func (p *fakeProc) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (p *fakeProc) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
	return p.fail
}

func (p *fakeProc) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeBackground struct {
	mu     sync.Mutex
	killed int
}

func (b *fakeBackground) Kill() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.killed++
	return nil
}

func (b *fakeBackground) killCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.killed
}

type fakeRunner struct {
	mu          sync.Mutex
	spawns      int
	commands    []string
	callbacks   []ProcessCallbacks
	backgrounds []*fakeBackground
	procs       []*fakeProc
	spawnErr    error
}

func (r *fakeRunner) SpawnShell(ctx context.Context, command, workingDir string, env []string, cb ProcessCallbacks) (ProcessHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spawnErr != nil {
		return nil, r.spawnErr
	}
	r.spawns++
	r.commands = append(r.commands, command)
	r.callbacks = append(r.callbacks, cb)
	proc := &fakeProc{}
	r.procs = append(r.procs, proc)
	return proc, nil
}

func (r *fakeRunner) SpawnBackground(ctx context.Context, command, workingDir string, onExit func(error)) (BackgroundHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bg := &fakeBackground{}
	r.backgrounds = append(r.backgrounds, bg)
	return bg, nil
}

func (r *fakeRunner) callback(index int) ProcessCallbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callbacks[index]
}

func (r *fakeRunner) spawnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spawns
}

type fakeMux struct {
	mu         sync.Mutex
	exists     bool
	existsErr  error
	kills      []string
	killErr    error
	runStartup []bool
}

func (m *fakeMux) AttachOrCreate(name, workingDir, startupCommand string, runStartup bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runStartup = append(m.runStartup, runStartup)
	return "attach-or-create " + name
}

func (m *fakeMux) SessionExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, m.existsErr
}

func (m *fakeMux) KillSession(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kills = append(m.kills, name)
	return m.killErr
}

func (m *fakeMux) killNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.kills...)
}

type recordingSink struct {
	mu     sync.Mutex
	output []schema.OutputEvent
	states []schema.StateEvent
	exits  []schema.ExitEvent
}

func (s *recordingSink) OnOutput(event schema.OutputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = append(s.output, event)
}

func (s *recordingSink) OnState(event schema.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, event)
}

func (s *recordingSink) OnExit(event schema.ExitEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, event)
}

func (s *recordingSink) lastState() schema.StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return schema.StateEvent{}
	}
	return s.states[len(s.states)-1]
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *countingNotifier) notified() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc      Service
	runner   *fakeRunner
	mux      *fakeMux
	sink     *recordingSink
	notifier *countingNotifier
	clock    *testClock
	focused  bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		runner:   &fakeRunner{},
		mux:      &fakeMux{},
		sink:     &recordingSink{},
		notifier: &countingNotifier{},
		clock:    &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	svc, err := NewService(schema.ServiceConfig{StateDir: t.TempDir()}, ServiceDeps{
		Runner:    env.runner,
		Mux:       env.mux,
		Notifier:  env.notifier,
		EventSink: env.sink,
		Clock:     env.clock.Now,
		Focused:   func() bool { return env.focused },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	env.svc = svc
	return env
}

func startDemo(t *testing.T, env *testEnv) schema.StartSessionResponse {
	t.Helper()
	resp, err := env.svc.StartSession(context.Background(), schema.StartSessionRequest{
		ProjectID: "demo",
		Path:      t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return resp
}

func TestStartSessionSpawnsAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	first := startDemo(t, env)
	if first.Resumed {
		t.Fatalf("first start must not be a resume")
	}

	second := startDemo(t, env)
	if !second.Resumed {
		t.Fatalf("second start must resume")
	}
	if env.runner.spawnCount() != 1 {
		t.Fatalf("expected one spawn, got %d", env.runner.spawnCount())
	}
}

func TestResumedStartReplaysHistory(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)
	cb := env.runner.callback(0)
	cb.OnData([]byte("hello "))
	cb.OnData([]byte("world"))

	resp := startDemo(t, env)
	if !resp.Resumed {
		t.Fatalf("expected resume")
	}
	hist, err := env.svc.History(context.Background(), schema.HistoryRequest{ProjectID: "demo"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(hist.Chunks))
	}
	if hist.Chunks[0].Data != "hello " || hist.Chunks[1].Data != "world" {
		t.Fatalf("history out of order: %q %q", hist.Chunks[0].Data, hist.Chunks[1].Data)
	}
	if hist.NextSeq != 2 {
		t.Fatalf("expected next seq 2, got %d", hist.NextSeq)
	}
}

func TestProbeDecidesStartupInjection(t *testing.T) {
	env := newTestEnv(t)
	env.mux.exists = true
	startDemo(t, env)
	if len(env.mux.runStartup) != 1 || env.mux.runStartup[0] {
		t.Fatalf("pre-existing mux session must suppress the startup command")
	}
}

func TestProbeErrorStillInjectsStartup(t *testing.T) {
	env := newTestEnv(t)
	env.mux.existsErr = errors.New("probe broke")
	startDemo(t, env)
	if len(env.mux.runStartup) != 1 || !env.mux.runStartup[0] {
		t.Fatalf("probe failure must be treated as not pre-existing")
	}
}

func TestStopSessionKillsAllThreeIndependently(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.svc.StartSession(context.Background(), schema.StartSessionRequest{
		ProjectID:  "demo",
		Path:       t.TempDir(),
		RunCommand: "npm run dev",
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if resp.Resumed {
		t.Fatalf("unexpected resume")
	}
	env.runner.procs[0].fail = errors.New("kill failed")

	if _, err := env.svc.StopSession(context.Background(), schema.StopSessionRequest{ProjectID: "demo"}); err != nil {
		t.Fatalf("stop session: %v", err)
	}
	if env.runner.procs[0].killCount() != 1 {
		t.Fatalf("process not killed")
	}
	if env.runner.backgrounds[0].killCount() != 1 {
		t.Fatalf("process kill failure must not skip the run command kill")
	}
	if len(env.mux.killNames()) != 1 {
		t.Fatalf("process kill failure must not skip the mux kill")
	}
	if _, err := env.svc.StopSession(context.Background(), schema.StopSessionRequest{ProjectID: "demo"}); !errors.Is(err, schema.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound on second stop, got %v", err)
	}
}

func TestExitRemovesSessionAndReportsState(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)
	env.runner.callback(0).OnExit(3)

	if len(env.svc.ProjectsState(context.Background())) != 0 {
		t.Fatalf("exited session must leave the store")
	}
	env.sink.mu.Lock()
	exits := append([]schema.ExitEvent(nil), env.sink.exits...)
	env.sink.mu.Unlock()
	if len(exits) != 1 || exits[0].Code != 3 {
		t.Fatalf("expected exit event with code 3, got %+v", exits)
	}
	if env.sink.lastState().State != schema.StateError {
		t.Fatalf("non-zero exit must map to error state, got %s", env.sink.lastState().State)
	}
	if env.notifier.notified() != 1 {
		t.Fatalf("non-zero exit must notify once, got %d", env.notifier.notified())
	}
}

func TestZeroExitCompletesWithoutNotification(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)
	env.runner.callback(0).OnExit(0)

	if env.sink.lastState().State != schema.StateCompleted {
		t.Fatalf("zero exit must map to completed, got %s", env.sink.lastState().State)
	}
	if env.notifier.notified() != 0 {
		t.Fatalf("zero exit must not notify")
	}
}

func TestStaleCallbacksAfterRestartAreDropped(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)
	stale := env.runner.callback(0)

	if _, err := env.svc.StopSession(context.Background(), schema.StopSessionRequest{ProjectID: "demo"}); err != nil {
		t.Fatalf("stop session: %v", err)
	}
	startDemo(t, env)

	// Output and exit from the killed process must not touch the new session.
	stale.OnData([]byte("ghost"))
	stale.OnExit(137)

	hist, err := env.svc.History(context.Background(), schema.HistoryRequest{ProjectID: "demo"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.Chunks) != 0 {
		t.Fatalf("stale output leaked into the new session: %+v", hist.Chunks)
	}
	if len(env.svc.ProjectsState(context.Background())) != 1 {
		t.Fatalf("stale exit removed the new session")
	}
}

func TestHookEventsMapToStates(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)

	cases := []struct {
		kind  schema.HookEventKind
		state schema.SessionState
	}{
		{schema.HookUserPromptSubmit, schema.StateWorking},
		{schema.HookNotification, schema.StateWaiting},
		{schema.HookStop, schema.StateReady},
		{schema.HookSubagentStop, schema.StateReady},
	}
	for _, tc := range cases {
		resp, err := env.svc.HandleHookEvent(context.Background(), schema.HookEventRequest{
			Kind:      tc.kind,
			ProjectID: "demo",
		})
		if err != nil {
			t.Fatalf("hook %s: %v", tc.kind, err)
		}
		if resp.State != tc.state {
			t.Fatalf("hook %s: expected state %s, got %s", tc.kind, tc.state, resp.State)
		}
		env.clock.Advance(10 * time.Second)
	}
}

func TestUnknownHookEventLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)
	before := env.svc.ProjectsState(context.Background())[0]

	env.clock.Advance(time.Minute)
	resp, err := env.svc.HandleHookEvent(context.Background(), schema.HookEventRequest{
		Kind:      schema.HookEventKind("PreToolUse"),
		ProjectID: "demo",
	})
	if err != nil {
		t.Fatalf("hook event: %v", err)
	}
	if resp.State != schema.StateUnknown {
		t.Fatalf("expected unknown state, got %s", resp.State)
	}
	after := env.svc.ProjectsState(context.Background())[0]
	if after.State != before.State {
		t.Fatalf("unknown hook must not change state: %s -> %s", before.State, after.State)
	}
	if !after.LastActivity.After(before.LastActivity) {
		t.Fatalf("unknown hook must still bump lastActivity")
	}
	if env.sink.lastState().State != schema.StateUnknown {
		t.Fatalf("unknown hook must still broadcast")
	}
}

func TestHookEventForUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.HandleHookEvent(context.Background(), schema.HookEventRequest{
		Kind:      schema.HookStop,
		ProjectID: "nope",
	})
	if !errors.Is(err, schema.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestReadyNotificationsAreDebounced(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)

	hook := schema.HookEventRequest{Kind: schema.HookStop, ProjectID: "demo"}
	if _, err := env.svc.HandleHookEvent(context.Background(), hook); err != nil {
		t.Fatalf("hook event: %v", err)
	}
	env.clock.Advance(2 * time.Second)
	if _, err := env.svc.HandleHookEvent(context.Background(), hook); err != nil {
		t.Fatalf("hook event: %v", err)
	}
	if env.notifier.notified() != 1 {
		t.Fatalf("expected one notification inside the window, got %d", env.notifier.notified())
	}

	env.clock.Advance(schema.DefaultNotifyDebounce)
	if _, err := env.svc.HandleHookEvent(context.Background(), hook); err != nil {
		t.Fatalf("hook event: %v", err)
	}
	if env.notifier.notified() != 2 {
		t.Fatalf("expected second notification after the window, got %d", env.notifier.notified())
	}
}

func TestFocusedWindowSuppressesNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.focused = true
	startDemo(t, env)

	if _, err := env.svc.HandleHookEvent(context.Background(), schema.HookEventRequest{
		Kind:      schema.HookStop,
		ProjectID: "demo",
	}); err != nil {
		t.Fatalf("hook event: %v", err)
	}
	if env.notifier.notified() != 0 {
		t.Fatalf("focused window must suppress notifications")
	}
}

func TestSendInputWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.svc.SendInput(context.Background(), schema.SendInputRequest{
		ProjectID: "demo",
		Data:      []byte("ls\n"),
	})
	if err != nil {
		t.Fatalf("send input: %v", err)
	}
	if resp.Delivered {
		t.Fatalf("input without a session must not be delivered")
	}
}

func TestSendInputReachesProcess(t *testing.T) {
	env := newTestEnv(t)
	startDemo(t, env)
	resp, err := env.svc.SendInput(context.Background(), schema.SendInputRequest{
		ProjectID: "demo",
		Data:      []byte("ls\n"),
	})
	if err != nil {
		t.Fatalf("send input: %v", err)
	}
	if !resp.Delivered {
		t.Fatalf("expected delivery")
	}
	if len(env.runner.procs[0].writes) != 1 || string(env.runner.procs[0].writes[0]) != "ls\n" {
		t.Fatalf("input did not reach the process")
	}
}

func TestShutdownKillsEverythingAndRejectsStarts(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.StartSession(context.Background(), schema.StartSessionRequest{
		ProjectID:  "demo",
		Path:       t.TempDir(),
		RunCommand: "make watch",
	}); err != nil {
		t.Fatalf("start session: %v", err)
	}

	env.svc.Shutdown(context.Background())

	if env.runner.procs[0].killCount() != 1 {
		t.Fatalf("shutdown must kill the session process")
	}
	if env.runner.backgrounds[0].killCount() != 1 {
		t.Fatalf("shutdown must kill the run command")
	}
	if len(env.mux.killNames()) != 1 {
		t.Fatalf("shutdown must kill the mux session")
	}
	if _, err := env.svc.StartSession(context.Background(), schema.StartSessionRequest{
		ProjectID: "other",
		Path:      t.TempDir(),
	}); !errors.Is(err, schema.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestStartSessionRejectsInvalidProjectID(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.StartSession(context.Background(), schema.StartSessionRequest{
		ProjectID: "no/slashes",
		Path:      t.TempDir(),
	}); !errors.Is(err, schema.ErrInvalidProject) {
		t.Fatalf("expected ErrInvalidProject, got %v", err)
	}
	if _, err := env.svc.StartSession(context.Background(), schema.StartSessionRequest{
		ProjectID: "demo",
	}); !errors.Is(err, schema.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

// gatedRunner parks SpawnShell until released so tests can hold a spawn in
// flight.
type gatedRunner struct {
	fakeRunner
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRunner) SpawnShell(ctx context.Context, command, workingDir string, env []string, cb ProcessCallbacks) (ProcessHandle, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.fakeRunner.SpawnShell(ctx, command, workingDir, env, cb)
}

func TestConcurrentStartsSpawnAtMostOnce(t *testing.T) {
	runner := &gatedRunner{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	svc, err := NewService(schema.ServiceConfig{StateDir: t.TempDir()}, ServiceDeps{
		Runner: runner,
		Mux:    &fakeMux{},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	path := t.TempDir()
	results := make(chan schema.StartSessionResponse, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, err := svc.StartSession(context.Background(), schema.StartSessionRequest{
				ProjectID: "demo",
				Path:      path,
			})
			if err != nil {
				t.Errorf("start session: %v", err)
			}
			results <- resp
		}()
	}

	// One caller reaches the runner and parks there; the other must resume
	// against the registered session while the spawn is still in flight.
	<-runner.entered
	var resumed schema.StartSessionResponse
	select {
	case resumed = <-results:
	case <-time.After(2 * time.Second):
		t.Fatalf("concurrent start did not resume while spawn was in flight")
	}
	if !resumed.Resumed {
		t.Fatalf("concurrent start must resume, got %+v", resumed)
	}
	select {
	case <-runner.entered:
		t.Fatalf("second spawn attempted for the same project")
	default:
	}

	close(runner.release)
	first := <-results
	if first.Resumed {
		t.Fatalf("spawning caller must not report a resume")
	}
	if runner.spawnCount() != 1 {
		t.Fatalf("expected one spawn, got %d", runner.spawnCount())
	}
	if snaps := svc.ProjectsState(context.Background()); len(snaps) != 1 {
		t.Fatalf("expected one registered session, got %d", len(snaps))
	}
}

func TestSpawnFailureRollsBackRegistration(t *testing.T) {
	env := newTestEnv(t)
	env.runner.spawnErr = errors.New("no pty")
	if _, err := env.svc.StartSession(context.Background(), schema.StartSessionRequest{
		ProjectID: "demo",
		Path:      t.TempDir(),
	}); err == nil {
		t.Fatalf("expected spawn error")
	}
	if snaps := env.svc.ProjectsState(context.Background()); len(snaps) != 0 {
		t.Fatalf("failed start must not leave a registered session: %+v", snaps)
	}
	env.runner.spawnErr = nil
	resp := startDemo(t, env)
	if resp.Resumed {
		t.Fatalf("start after rollback must spawn fresh")
	}
}
