package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestMirror(t *testing.T, ttl time.Duration) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisMirror(client, ttl), mr
}

func TestRedisMirror_LoadOrdersTranscriptBySequence(t *testing.T) {
	mirror, mr := newTestMirror(t, time.Hour)
	ctx := context.Background()
	at := time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)

	if err := mirror.AppendTranscript(ctx, "s1", false,
		TranscriptEvent{Sequence: 2, Speaker: SpeakerCaller, Text: "second", ReceivedAt: at},
		TranscriptEvent{Sequence: 1, Speaker: SpeakerAgent, Text: "first", ReceivedAt: at},
	); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	snap := Snapshot{
		SessionID:  "s1",
		CallID:     "call-1",
		Status:     StatusEnded,
		Transcript: []TranscriptEvent{{Sequence: 99, Text: "ignored"}},
	}
	if err := mirror.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := mirror.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Status != StatusEnded || got.CallID != "call-1" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if len(got.Transcript) != 2 || got.Transcript[0].Text != "first" || got.Transcript[1].Text != "second" {
		t.Fatalf("unexpected transcript %+v", got.Transcript)
	}

	if ttl := mr.TTL(sessionKey("s1")); ttl != time.Hour {
		t.Errorf("snapshot TTL = %s, want 1h", ttl)
	}
	if ttl := mr.TTL(transcriptKey("s1")); ttl != time.Hour {
		t.Errorf("transcript TTL = %s, want 1h", ttl)
	}
}

func TestRedisMirror_LoadMissing(t *testing.T) {
	mirror, _ := newTestMirror(t, 0)
	got, err := mirror.Load(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", got, err)
	}
}

func TestRedisMirror_NilIsNoop(t *testing.T) {
	var mirror *RedisMirror
	if NewRedisMirror(nil, time.Hour) != nil {
		t.Fatal("expected nil mirror without a client")
	}
	if err := mirror.SaveSnapshot(context.Background(), Snapshot{SessionID: "s"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if got, err := mirror.Load(context.Background(), "s"); got != nil || err != nil {
		t.Fatalf("Load: %+v, %v", got, err)
	}
}

func TestKeys(t *testing.T) {
	if got := sessionKey("abc"); got != "voice:session:abc" {
		t.Errorf("sessionKey = %q", got)
	}
	if got := transcriptKey("abc"); got != "voice:session:abc:transcript" {
		t.Errorf("transcriptKey = %q", got)
	}
}

func TestRegistry_GetFallsBackToMirrorAfterEviction(t *testing.T) {
	mirror, _ := newTestMirror(t, time.Hour)
	r, clock := newTestRegistry(t, &fakeProvisioner{}, &recordingSink{})
	r.mirror = mirror
	ctx := context.Background()

	h := createActive(t, r, "s")
	for _, text := range []string{"hello", "hi, how can I help?"} {
		if _, err := r.Dispatch(ctx, "s", &UpdateEvent{CallID: h.CallID, Fragment: text, Speaker: SpeakerAgent}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if _, err := r.Dispatch(ctx, "s", &EndEvent{CallID: h.CallID}); err != nil {
		t.Fatalf("End: %v", err)
	}

	clock.advance(time.Hour)
	if _, evicted := r.SweepIdle(clock.now()); evicted != 1 {
		t.Fatalf("expected eviction, got %d", evicted)
	}
	if _, err := r.Dispatch(ctx, "s", &UpdateEvent{Fragment: "late"}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}

	snap, err := r.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != StatusEnded || snap.CallID != h.CallID {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Transcript) != 2 || snap.Transcript[1].Sequence != 2 {
		t.Fatalf("unexpected transcript %+v", snap.Transcript)
	}
}

func TestRedisMirror_ResetClearsStoredTranscript(t *testing.T) {
	mirror, mr := newTestMirror(t, time.Hour)
	ctx := context.Background()

	if err := mirror.AppendTranscript(ctx, "s1", false, TranscriptEvent{Sequence: 1, Text: "old"}); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if err := mirror.AppendTranscript(ctx, "s1", true); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists(transcriptKey("s1")) {
		t.Fatal("expected transcript key to be deleted")
	}
	if err := mirror.AppendTranscript(ctx, "s1", true, TranscriptEvent{Sequence: 1, Text: "new"}); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	items, err := mr.List(transcriptKey("s1"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(items))
	}
}

func TestRegistry_RecreatedSessionMirrorsOnlyItsOwnTranscript(t *testing.T) {
	mirror, _ := newTestMirror(t, time.Hour)
	r, clock := newTestRegistry(t, &fakeProvisioner{}, &recordingSink{})
	r.mirror = mirror
	ctx := context.Background()

	runRound := func(texts ...string) Handle {
		t.Helper()
		h := createActive(t, r, "s")
		for _, text := range texts {
			if _, err := r.Dispatch(ctx, "s", &UpdateEvent{CallID: h.CallID, Fragment: text, Speaker: SpeakerCaller}); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
		}
		if _, err := r.Dispatch(ctx, "s", &EndEvent{CallID: h.CallID}); err != nil {
			t.Fatalf("End: %v", err)
		}
		clock.advance(time.Hour)
		if _, evicted := r.SweepIdle(clock.now()); evicted != 1 {
			t.Fatalf("expected eviction, got %d", evicted)
		}
		return h
	}

	runRound("one", "two")
	second := runRound("three", "four")

	snap, err := r.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.CallID != second.CallID {
		t.Fatalf("expected call %s, got %s", second.CallID, snap.CallID)
	}
	if len(snap.Transcript) != 2 {
		t.Fatalf("expected 2 transcript events, got %+v", snap.Transcript)
	}
	for i, ev := range snap.Transcript {
		if ev.Sequence != int64(i+1) {
			t.Fatalf("event %d has sequence %d", i, ev.Sequence)
		}
	}
	if snap.Transcript[0].Text != "three" {
		t.Fatalf("unexpected transcript %+v", snap.Transcript)
	}

	// A re-created session with no updates must not expose the old transcript.
	h := createActive(t, r, "s")
	if _, err := r.Dispatch(ctx, "s", &EndEvent{CallID: h.CallID}); err != nil {
		t.Fatalf("End: %v", err)
	}
	clock.advance(time.Hour)
	r.SweepIdle(clock.now())
	snap, err = r.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Transcript) != 0 {
		t.Fatalf("expected empty transcript, got %+v", snap.Transcript)
	}
}
