package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corvidlabs/attune/internal/store/memstore"
	"github.com/corvidlabs/attune/pkg/provider/stt"
	sttmock "github.com/corvidlabs/attune/pkg/provider/stt/mock"
	"github.com/corvidlabs/attune/pkg/types"
)

// blockingSTT parks Transcribe until released, so tests can hold a pipeline
// run in flight deterministically.
type blockingSTT struct {
	entered chan struct{}
	release chan struct{}
	result  *stt.Result
}

func newBlockingSTT(result *stt.Result) *blockingSTT {
	return &blockingSTT{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		result:  result,
	}
}

func (b *blockingSTT) Name() string { return "blocking" }

func (b *blockingSTT) Transcribe(ctx context.Context, _ stt.Request) (*stt.Result, error) {
	close(b.entered)
	select {
	case <-b.release:
		return b.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestTrigger_SingleFlightPerSession(t *testing.T) {
	p := newScriptedAI()
	scriptHappyPath(p)
	sttProv := newBlockingSTT(happySegments())
	st := memstore.New()
	createSession(t, st, "s1", types.ModeCDI)
	pl := newTestPipeline(t, p, sttProv, st)

	sup := NewSupervisor(pl, st, nil)
	if err := sup.Trigger("s1"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	<-sttProv.entered

	if err := sup.Trigger("s1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second trigger err = %v, want ErrAlreadyRunning", err)
	}
	if !sup.Running("s1") {
		t.Error("Running should report the in-flight session")
	}

	close(sttProv.release)
	sup.Close()

	sess, err := st.Session(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", sess.Status, sess.Error)
	}
	if sup.Running("s1") {
		t.Error("session still marked in flight after completion")
	}
}

func TestTrigger_DistinctSessionsRunIndependently(t *testing.T) {
	p := newScriptedAI()
	scriptHappyPath(p)
	st := memstore.New()
	createSession(t, st, "s1", types.ModeCDI)
	createSession(t, st, "s2", types.ModeCDI)
	pl := newTestPipeline(t, p, &sttmock.Provider{Result: happySegments()}, st)

	sup := NewSupervisor(pl, st, nil)
	if err := sup.Trigger("s1"); err != nil {
		t.Fatalf("trigger s1: %v", err)
	}
	if err := sup.Trigger("s2"); err != nil {
		t.Fatalf("trigger s2: %v", err)
	}
	sup.Close()

	for _, id := range []string{"s1", "s2"} {
		sess, err := st.Session(context.Background(), id)
		if err != nil {
			t.Fatalf("Session %s: %v", id, err)
		}
		if sess.Status != types.StatusCompleted {
			t.Errorf("session %s status = %s, want completed", id, sess.Status)
		}
	}
}

func TestReapStale_FailsStuckProcessingSessions(t *testing.T) {
	st := memstore.New()
	createSession(t, st, "stuck", types.ModeCDI)
	if err := st.MarkProcessing(context.Background(), "stuck"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	sup := NewSupervisor(nil, st, nil, WithStaleAfter(time.Nanosecond))
	time.Sleep(2 * time.Millisecond)
	sup.reapStale(context.Background())

	sess, err := st.Session(context.Background(), "stuck")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.Error != FailureMessage {
		t.Errorf("error = %q, want the generic failure message", sess.Error)
	}
}
