package voice

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/provisioning"
	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

const (
	defaultShards        = 32
	defaultMirrorTimeout = 2 * time.Second
)

type provisioner interface {
	Provision(ctx context.Context, agentID string, agentVersion int) provisioning.Result
}

// RecordSink receives the completed-call record of every session that reaches
// a terminal status. Record must not block.
type RecordSink interface {
	Record(rec analytics.CompletedCallRecord)
}

// SessionMirror keeps a copy of session state outside the process.
type SessionMirror interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// AppendTranscript adds events to the stored transcript; reset discards
	// whatever was stored under the id before.
	AppendTranscript(ctx context.Context, sessionID string, reset bool, events ...TranscriptEvent) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
}

type registryObserver interface {
	ObserveSessionCreated()
	ObserveSessionTerminal(status, cause string)
	ObserveTranscriptEvent()
	SetLiveSessions(n int)
}

// CreateRequest asks the registry for a new provisioned session.
type CreateRequest struct {
	// SessionID is the caller's correlation key; one is generated when empty.
	SessionID string
	AgentID   string
	Language  string
	// AgentVersion pins the agent version for this call; zero uses the
	// directory version.
	AgentVersion int
	Metadata     map[string]any
}

// Event is a mutation routed to a live session: *UpdateEvent or *EndEvent.
type Event interface {
	isEvent()
}

// UpdateEvent carries one conversation update.
type UpdateEvent struct {
	CallID   string
	Fragment string
	Speaker  Speaker
}

// EndEvent ends an active session.
type EndEvent struct {
	CallID string
	Reason string
}

func (*UpdateEvent) isEvent() {}
func (*EndEvent) isEvent()    {}

// Result is the outcome of an accepted event.
type Result struct {
	Accepted bool
	Status   Status
	// Sequence is the transcript sequence assigned to the fragment, zero when
	// the update carried none.
	Sequence int64
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry owns the live sessions. The id space is split across shards so
// lookups never contend on a single lock; each session has its own mutex
// that serializes its mutations.
type Registry struct {
	shards            []*shard
	provisioner       provisioner
	records           RecordSink
	mirror            SessionMirror
	metrics           registryObserver
	logger            *logging.Logger
	idleTimeout       time.Duration
	terminalRetention time.Duration
	mirrorTimeout     time.Duration
	live              atomic.Int64
	now               func() time.Time
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Provisioner provisioner
	Records     RecordSink
	// Mirror is optional.
	Mirror  SessionMirror
	Metrics registryObserver
	Logger  *logging.Logger
	// IdleTimeout ends an active session with no accepted update for longer
	// than this. Zero disables idle ends.
	IdleTimeout time.Duration
	// TerminalRetention keeps ended sessions addressable before eviction.
	TerminalRetention time.Duration
	Shards            int
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Provisioner == nil {
		panic("voice: provisioner required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	r := &Registry{
		shards:            make([]*shard, cfg.Shards),
		provisioner:       cfg.Provisioner,
		records:           cfg.Records,
		mirror:            cfg.Mirror,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		idleTimeout:       cfg.IdleTimeout,
		terminalRetention: cfg.TerminalRetention,
		mirrorTimeout:     defaultMirrorTimeout,
		now:               time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (r *Registry) lookup(sessionID string) (*Session, bool) {
	sh := r.shardFor(sessionID)
	sh.mu.RLock()
	s, ok := sh.sessions[sessionID]
	sh.mu.RUnlock()
	return s, ok
}

// Create registers a session and provisions its call. A second Create with the
// same session id returns the existing handle without provisioning again.
// A hard provisioning failure returns the Failed handle together with a
// *ProvisionError; a degraded call status returns the Failed handle alone.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (Handle, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}

	sh := r.shardFor(id)
	for {
		sh.mu.Lock()
		existing, ok := sh.sessions[id]
		if !ok {
			break
		}
		sh.mu.Unlock()
		// Blocks until the first Create has finished provisioning.
		existing.mu.Lock()
		handle, err, evicted := existing.handle(true), existing.provisionErr, existing.evicted
		existing.mu.Unlock()
		if !evicted {
			return handle, err
		}
	}
	s := newSession(id, req.AgentID, req.Language, req.AgentVersion, req.Metadata, r.now())
	s.mu.Lock()
	sh.sessions[id] = s
	sh.mu.Unlock()
	r.trackLive(1)
	if r.metrics != nil {
		r.metrics.ObserveSessionCreated()
	}

	result := r.provisioner.Provision(ctx, s.agentID, s.agentVersion)
	rec, err := s.applyProvision(result, r.now())
	handle, provisionErr := s.handle(false), s.provisionErr
	s.mu.Unlock()
	if err != nil {
		return handle, err
	}

	logger := r.logger.With("session_id", id, "agent_id", handle.AgentID)
	if rec != nil {
		logger.Warn("session failed during provisioning", "call_id", handle.CallID, "end_cause", rec.EndReason)
		r.emit(*rec)
	} else {
		logger.Info("session active", "call_id", handle.CallID)
	}
	r.syncMirror(s)
	return handle, provisionErr
}

// Dispatch applies ev to the session under its lock.
func (r *Registry) Dispatch(ctx context.Context, sessionID string, ev Event) (Result, error) {
	s, ok := r.lookup(sessionID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	var (
		res Result
		rec *analytics.CompletedCallRecord
		err error
	)
	switch e := ev.(type) {
	case *UpdateEvent:
		if err = s.checkCall(e.CallID); err != nil {
			break
		}
		var appended bool
		var te TranscriptEvent
		te, appended, err = s.update(e.Fragment, e.Speaker, r.now())
		if err == nil {
			res = Result{Accepted: true, Status: s.status}
			if appended {
				res.Sequence = te.Sequence
				if r.metrics != nil {
					r.metrics.ObserveTranscriptEvent()
				}
			}
		}
	case *EndEvent:
		if err = s.checkCall(e.CallID); err != nil {
			break
		}
		var out analytics.CompletedCallRecord
		out, err = s.end(CauseExplicit, r.now())
		if err == nil {
			s.endNote = e.Reason
			rec = &out
			res = Result{Accepted: true, Status: s.status}
		}
	default:
		err = fmt.Errorf("voice: unsupported event %T", ev)
	}
	s.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	if rec != nil {
		r.logger.Info("session ended", "session_id", sessionID, "end_cause", rec.EndReason, "transcript_length", rec.TranscriptLength)
		r.emit(*rec)
	}
	r.syncMirror(s)
	return res, nil
}

func (s *Session) checkCall(callID string) error {
	if callID != "" && callID != s.callID {
		return fmt.Errorf("%w: session %s", ErrCallMismatch, s.id)
	}
	return nil
}

// Get returns the session snapshot, consulting the mirror once the session
// has been evicted.
func (r *Registry) Get(ctx context.Context, sessionID string) (Snapshot, error) {
	if s, ok := r.lookup(sessionID); ok {
		s.mu.Lock()
		evicted := s.evicted
		snap := s.snapshot(true)
		s.mu.Unlock()
		if !evicted {
			return snap, nil
		}
	}
	if r.mirror != nil {
		snap, err := r.mirror.Load(ctx, sessionID)
		if err != nil {
			return Snapshot{}, err
		}
		if snap != nil {
			return *snap, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
}

// Len is the number of registered sessions, terminal ones included.
func (r *Registry) Len() int {
	return int(r.live.Load())
}

func (r *Registry) emit(rec analytics.CompletedCallRecord) {
	if r.metrics != nil {
		r.metrics.ObserveSessionTerminal(string(rec.FinalStatus), rec.EndReason)
	}
	if r.records != nil {
		r.records.Record(rec)
	}
}

func (r *Registry) trackLive(delta int64) {
	n := r.live.Add(delta)
	if r.metrics != nil {
		r.metrics.SetLiveSessions(int(n))
	}
}

// syncMirror pushes transcript events not yet mirrored and the latest
// snapshot. Mirror failures are logged and never fail the caller.
func (r *Registry) syncMirror(s *Session) {
	if r.mirror == nil {
		return
	}
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	s.mu.Lock()
	snap := s.snapshot(false)
	pending := append([]TranscriptEvent(nil), s.transcript[s.mirrored:]...)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	reset := !s.mirrorStarted
	if reset || len(pending) > 0 {
		if err := r.mirror.AppendTranscript(ctx, snap.SessionID, reset, pending...); err != nil {
			r.logger.Warn("failed to mirror transcript", "session_id", snap.SessionID, "error", err)
			return
		}
		s.mirrorStarted = true
		s.mirrored += len(pending)
	}
	if err := r.mirror.SaveSnapshot(ctx, snap); err != nil {
		r.logger.Warn("failed to mirror session", "session_id", snap.SessionID, "error", err)
	}
}
