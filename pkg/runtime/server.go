package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/sigil/pkg/agent"
	"github.com/wilhg/sigil/pkg/bus"
	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/signal"
	"github.com/wilhg/sigil/pkg/statemap"
)

// DefaultCallTimeout bounds synchronous calls unless the caller's
// context carries an earlier deadline.
const DefaultCallTimeout = 5 * time.Second

type callReply struct {
	agent *agent.Agent
	err   error
}

// envelope is one queued unit of work: an inbound signal plus, for
// synchronous calls, the reply channel the caller is blocked on.
type envelope struct {
	sig   *signal.Signal
	reply chan callReply
}

type child struct {
	tag    string
	cancel context.CancelFunc
	done   chan struct{}
}

// SpawnAgentFunc starts a sibling agent process for a SpawnAgent
// directive. Supplied by the embedding application.
type SpawnAgentFunc func(ctx context.Context, d agent.SpawnAgent) error

// Server hosts one agent as a message-driven process. All agent
// mutation happens on the server's single loop goroutine; callers
// interact only through Cast, Call, and the control methods.
type Server struct {
	agt      *agent.Agent
	bus      bus.Bus
	router   *signal.Router
	strategy Strategy
	queue    *signalQueue
	spawner  SpawnAgentFunc

	callTimeout time.Duration

	mu       sync.Mutex // guards status and children
	status   Status
	children map[string]*child

	// snapshot is refreshed after every processed unit so State() never
	// races the loop.
	snapshot atomic.Pointer[agent.Agent]

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// ServerOption configures a server at construction time.
type ServerOption func(*Server)

// WithBus sets the pub/sub transport for lifecycle events and Emit
// directives. Defaults to an in-process bus.
func WithBus(b bus.Bus) ServerOption { return func(s *Server) { s.bus = b } }

// WithRouter sets the signal-type routing table.
func WithRouter(r *signal.Router) ServerOption { return func(s *Server) { s.router = r } }

// WithStrategy overrides the default FSM strategy.
func WithStrategy(st Strategy) ServerOption { return func(s *Server) { s.strategy = st } }

// WithMaxQueueSize bounds the signal queue. Zero keeps the default.
func WithMaxQueueSize(n int) ServerOption {
	return func(s *Server) { s.queue = newSignalQueue(n) }
}

// WithCallTimeout sets the default synchronous call timeout.
func WithCallTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithSpawnAgentFunc wires SpawnAgent directives to the embedding
// application's process supervisor.
func WithSpawnAgentFunc(fn SpawnAgentFunc) ServerOption {
	return func(s *Server) { s.spawner = fn }
}

// NewServer builds a server around an agent. The server starts in
// initializing status; Start admits it to the loop.
func NewServer(a *agent.Agent, opts ...ServerOption) (*Server, error) {
	if a == nil {
		return nil, errmodel.Config("bad_agent", "agent is nil", nil)
	}
	s := &Server{
		agt:         a,
		status:      StatusInitializing,
		queue:       newSignalQueue(0),
		callTimeout: DefaultCallTimeout,
		children:    map[string]*child{},
		wake:        make(chan struct{}, 1),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = bus.NewInproc()
	}
	if s.router == nil {
		r, err := signal.BuildRouter()
		if err != nil {
			return nil, err
		}
		s.router = r
	}
	if s.strategy == nil {
		s.strategy = FSMStrategy{}
	}
	s.snapshot.Store(a.Clone())
	return s, nil
}

// Agent returns the hosted agent. Strategies run on the loop goroutine;
// other callers must use State() instead.
func (s *Server) Agent() *agent.Agent { return s.agt }

// Status returns the current lifecycle status.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns a snapshot of the agent as of the last processed unit.
func (s *Server) State() *agent.Agent {
	return s.snapshot.Load().Clone()
}

// QueueLen reports the number of queued, undrained signals.
func (s *Server) QueueLen() int { return s.queue.len() }

// Start transitions the server to idle and launches the drain loop.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Transition(StatusIdle); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.event(signal.TypeStarted, map[string]any{"agent_id": s.agt.ID})
	go s.loop()
	return nil
}

// Transition moves the status machine. Self-transitions are silent
// no-ops; every other accepted edge emits transition_succeeded and every
// rejection emits transition_failed alongside the returned error.
func (s *Server) Transition(to Status) error {
	s.mu.Lock()
	from := s.status
	if from == to {
		s.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.event(signal.TypeTransitionFailed, map[string]any{"from": string(from), "to": string(to)})
		return invalidTransition(from, to)
	}
	s.status = to
	s.mu.Unlock()
	s.event(signal.TypeTransitionOK, map[string]any{"from": string(from), "to": string(to)})
	return nil
}

// Cast enqueues a signal without waiting for its result. Overflow is
// rejected at the boundary and reported through a queue_overflow event.
func (s *Server) Cast(sig *signal.Signal) error {
	return s.admit(envelope{sig: sig})
}

// Call enqueues a signal and blocks until it is processed or the
// timeout elapses. On timeout the caller gets the error but the agent
// still processes the request to completion.
func (s *Server) Call(ctx context.Context, sig *signal.Signal) (*agent.Agent, error) {
	reply := make(chan callReply, 1)
	if err := s.admit(envelope{sig: sig, reply: reply}); err != nil {
		return nil, err
	}
	timer := time.NewTimer(s.callTimeout)
	defer timer.Stop()
	select {
	case r := <-reply:
		return r.agent, r.err
	case <-timer.C:
		return nil, errmodel.Execution("call_timeout", "call timed out; the agent keeps processing", map[string]any{
			"signal_id": sig.ID,
			"timeout":   s.callTimeout.String(),
		}, nil)
	case <-ctx.Done():
		return nil, errmodel.Execution("call_timeout", ctx.Err().Error(), map[string]any{"signal_id": sig.ID}, ctx.Err())
	}
}

func (s *Server) admit(env envelope) error {
	if env.sig == nil {
		return errmodel.Validation("bad_signal", "signal is nil", nil)
	}
	st := s.Status()
	if st == StatusStopping {
		return errmodel.InvalidState("server_stopping", "server does not accept signals while stopping", nil)
	}
	if err := s.queue.enqueue(env); err != nil {
		s.event(signal.TypeQueueOverflow, map[string]any{
			"queue_size": s.queue.len(),
			"max_size":   s.queue.max,
		})
		return err
	}
	s.nudge()
	return nil
}

func (s *Server) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pause stops draining; signals keep accumulating up to the queue bound.
func (s *Server) Pause() error {
	return s.Transition(StatusPaused)
}

// Resume returns a paused server to idle and drains any backlog.
func (s *Server) Resume() error {
	if err := s.Transition(StatusIdle); err != nil {
		return err
	}
	s.nudge()
	return nil
}

// ClearQueue drops all queued signals and reports how many were dropped.
func (s *Server) ClearQueue() int {
	n := s.queue.clear()
	s.event(signal.TypeQueueCleared, map[string]any{"queue_size": n})
	return n
}

// Stop shuts the server down: no new signals are admitted, children are
// canceled, and the loop exits. Safe to call more than once.
func (s *Server) Stop(reason string) {
	s.once.Do(func() {
		_ = s.Transition(StatusStopping)
		s.mu.Lock()
		kids := make([]*child, 0, len(s.children))
		for _, c := range s.children {
			kids = append(kids, c)
		}
		s.mu.Unlock()
		for _, c := range kids {
			c.cancel()
			<-c.done
		}
		s.event(signal.TypeStopped, map[string]any{"agent_id": s.agt.ID, "reason": reason})
		if s.cancel != nil {
			s.cancel()
		}
		close(s.stopped)
	})
}

// Done is closed once the server has fully stopped.
func (s *Server) Done() <-chan struct{} { return s.stopped }

func (s *Server) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.Stop("context_canceled")
			return
		case <-s.stopped:
			return
		case <-s.wake:
			s.drain()
		}
	}
}

// drain pops and processes queued units while the server is idle. A
// failing unit is reported and draining continues with the next one.
func (s *Server) drain() {
	for s.Status() == StatusIdle {
		env, err := s.queue.dequeue()
		if err != nil {
			return
		}
		s.process(env)
	}
}

func (s *Server) process(env envelope) {
	tr := otel.Tracer("runtime/server")
	ctx, span := tr.Start(s.ctx, "Server.Process", trace.WithAttributes(
		attribute.String("agent.id", s.agt.ID),
		attribute.String("signal.id", env.sig.ID),
		attribute.String("signal.type", env.sig.Type),
	))
	defer span.End()

	res, err := s.handleSignal(ctx, env.sig)
	if err != nil {
		span.RecordError(err)
		s.event(signal.TypeActFailed, map[string]any{
			"signal_id": env.sig.ID,
			"error":     errmodel.From(err),
		})
	} else {
		s.event(signal.TypeActCompleted, map[string]any{
			"signal_id": env.sig.ID,
			"status":    res.Status,
		})
	}

	if s.agt.DirtyState {
		s.event(signal.TypeStateChanged, map[string]any{
			"agent_id": s.agt.ID,
			"state":    statemap.Clone(s.agt.State),
		})
		s.agt.DirtyState = false
	}
	s.snapshot.Store(s.agt.Clone())

	// Each caller gets its own clone; mutating a reply must not bleed
	// into later State() snapshots.
	if env.reply != nil {
		env.reply <- callReply{agent: s.snapshot.Load().Clone(), err: err}
	}
}

// handleSignal routes one signal to instructions, executes them via the
// strategy, and side-effects the surviving directives.
func (s *Server) handleSignal(ctx context.Context, sig *signal.Signal) (agent.RunResult, error) {
	targets, err := s.router.Route(sig)
	if err != nil {
		return agent.RunResult{Status: agent.StatusError, Agent: s.agt, Error: err}, err
	}

	correlation := sig.CorrelationID
	if correlation == "" {
		correlation = sig.ID
	}
	instructions := make([]agent.Instruction, 0, len(targets))
	for _, t := range targets {
		ins, err := agent.NewInstruction(t.Action, statemap.Merge(sig.Data, t.Params))
		if err != nil {
			return agent.RunResult{Status: agent.StatusError, Agent: s.agt, Error: err}, err
		}
		ins.CorrelationID = correlation
		ins.Context = map[string]any{"signal_id": sig.ID, "signal_type": sig.Type}
		instructions = append(instructions, ins)
	}
	if err := s.agt.Plan(instructions, nil); err != nil {
		return agent.RunResult{Status: agent.StatusError, Agent: s.agt, Error: err}, err
	}

	res, err := s.strategy.Execute(ctx, s)
	s.applyDirectives(sig, res.Directives)
	return res, err
}

// applyDirectives performs the side effects the runner returned, in
// emission order. Individual directive failures are reported as events
// and do not stop later directives.
func (s *Server) applyDirectives(origin *signal.Signal, directives []agent.Directive) {
	for _, d := range directives {
		switch v := d.(type) {
		case agent.Emit:
			s.emitDirective(origin, v)
		case agent.ErrorDirective:
			s.event(signal.TypeActFailed, map[string]any{
				"signal_id": origin.ID,
				"error":     errmodel.From(v.Err),
				"context":   v.Context,
			})
		case agent.Spawn:
			s.spawnChild(v)
		case agent.SpawnAgent:
			s.spawnAgent(v)
		case agent.StopChild:
			s.stopChild(v.Tag, v.Reason)
		case agent.Schedule:
			s.schedule(v)
		case agent.Stop:
			// Stop after the current unit finishes; stopping from the
			// loop goroutine itself would deadlock on child teardown.
			go s.Stop(v.Reason)
		default:
			s.event(signal.TypeActFailed, map[string]any{
				"signal_id": origin.ID,
				"error":     errmodel.Validation("unknown_directive", "directive kind has no handler", map[string]any{"kind": d.Kind()}),
			})
		}
	}
}

func (s *Server) emitDirective(origin *signal.Signal, e agent.Emit) {
	if e.Signal == nil {
		return
	}
	out := *e.Signal
	if out.ID == "" {
		out.ID = signal.NewID()
	}
	if out.CorrelationID == "" {
		if origin.CorrelationID != "" {
			out.CorrelationID = origin.CorrelationID
		} else {
			out.CorrelationID = origin.ID
		}
	}
	if out.CausationID == "" {
		out.CausationID = origin.ID
	}
	topic := signal.AgentTopic(s.agt.ID)
	if t, ok := e.Dispatch["topic"].(string); ok && t != "" {
		topic = t
	}
	_ = s.bus.Publish(s.ctx, topic, &out)
}

func (s *Server) spawnChild(d agent.Spawn) {
	if d.Task == nil {
		s.event(signal.TypeProcessFailed, map[string]any{"tag": d.Tag, "error": "spawn task is nil"})
		return
	}
	tag := d.Tag
	if tag == "" {
		tag = signal.NewID()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	c := &child{tag: tag, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	if _, exists := s.children[tag]; exists {
		s.mu.Unlock()
		cancel()
		s.event(signal.TypeProcessFailed, map[string]any{"tag": tag, "error": "child tag already in use"})
		return
	}
	s.children[tag] = c
	s.mu.Unlock()

	s.event(signal.TypeProcessStarted, map[string]any{"tag": tag})
	go func() {
		defer close(c.done)
		err := d.Task(ctx)
		s.mu.Lock()
		delete(s.children, tag)
		s.mu.Unlock()
		if err != nil {
			s.event(signal.TypeProcessFailed, map[string]any{"tag": tag, "error": errmodel.From(err)})
			return
		}
		s.event(signal.TypeProcessTerminated, map[string]any{"tag": tag})
	}()
}

func (s *Server) spawnAgent(d agent.SpawnAgent) {
	if s.spawner == nil {
		s.event(signal.TypeProcessFailed, map[string]any{
			"tag":   d.Tag,
			"error": "no spawn_agent handler configured",
		})
		return
	}
	if err := s.spawner(s.ctx, d); err != nil {
		s.event(signal.TypeProcessFailed, map[string]any{"tag": d.Tag, "error": errmodel.From(err)})
		return
	}
	s.event(signal.TypeProcessStarted, map[string]any{"tag": d.Tag, "agent_id": d.AgentID})
}

func (s *Server) stopChild(tag, reason string) {
	s.mu.Lock()
	c, ok := s.children[tag]
	s.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	<-c.done
	s.event(signal.TypeProcessTerminated, map[string]any{"tag": tag, "reason": reason})
}

func (s *Server) schedule(d agent.Schedule) {
	if d.Message == nil {
		return
	}
	time.AfterFunc(d.Delay, func() {
		_ = s.Cast(d.Message)
	})
}

// event publishes a lifecycle signal to the per-agent topic. Event
// publication is best-effort; a full subscriber never blocks the loop.
func (s *Server) event(typ string, data map[string]any) {
	if s.bus == nil {
		return
	}
	sig, err := signal.New(typ, data,
		signal.WithSource("sigil://agent/"+s.agt.ID),
		signal.WithSubject(s.agt.ID),
	)
	if err != nil {
		return
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.bus.Publish(ctx, signal.AgentTopic(s.agt.ID), sig)
}
