package voice

import (
	"context"
	"time"

	"github.com/wolfman30/voice-orchestrator/internal/analytics"
)

// SweepIdle ends active sessions idle for longer than the idle timeout and
// evicts terminal sessions older than the terminal retention. Sessions busy
// with a mutation are skipped until the next sweep.
func (r *Registry) SweepIdle(now time.Time) (ended, evicted int) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		candidates := make([]*Session, 0, len(sh.sessions))
		for _, s := range sh.sessions {
			candidates = append(candidates, s)
		}
		sh.mu.RUnlock()

		for _, s := range candidates {
			e, ev := r.sweepOne(sh, s, now)
			if e {
				ended++
			}
			if ev {
				evicted++
			}
		}
	}
	return ended, evicted
}

func (r *Registry) sweepOne(sh *shard, s *Session, now time.Time) (ended, evicted bool) {
	if !s.mu.TryLock() {
		return false, false
	}
	var rec *analytics.CompletedCallRecord
	if s.status == StatusActive && r.idleTimeout > 0 && now.Sub(s.lastActivity) > r.idleTimeout {
		out, err := s.end(CauseIdleTimeout, now)
		if err == nil {
			rec = &out
			ended = true
		}
	}
	if s.status.Terminal() && !s.evicted && now.Sub(s.endedAt) >= r.terminalRetention {
		s.evicted = true
		sh.mu.Lock()
		if sh.sessions[s.id] == s {
			delete(sh.sessions, s.id)
		}
		sh.mu.Unlock()
		evicted = true
	}
	id := s.id
	s.mu.Unlock()

	if rec != nil {
		r.logger.Info("session ended by idle timeout", "session_id", id, "transcript_length", rec.TranscriptLength)
		r.emit(*rec)
		r.syncMirror(s)
	}
	if evicted {
		r.trackLive(-1)
		r.logger.Debug("session evicted", "session_id", id)
	}
	return ended, evicted
}

// RunSweeper calls SweepIdle every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ended, evicted := r.SweepIdle(r.now()); ended > 0 || evicted > 0 {
				r.logger.Info("session sweep", "ended", ended, "evicted", evicted, "live", r.Len())
			}
		}
	}
}
