package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/corvidlabs/attune/internal/health"
	"github.com/corvidlabs/attune/internal/pipeline"
	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/internal/store/memstore"
	"github.com/corvidlabs/attune/pkg/types"
)

// fakeSupervisor records triggers and returns a scripted error.
type fakeSupervisor struct {
	triggered []string
	err       error
	running   map[string]bool
}

func (f *fakeSupervisor) Trigger(id string) error {
	f.triggered = append(f.triggered, id)
	return f.err
}

func (f *fakeSupervisor) Running(id string) bool { return f.running[id] }

func newTestServer(st store.Store, sup Supervisor) *Server {
	return New(Config{ListenAddr: ":0"}, st, sup, health.New(), nil)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestCreateSession(t *testing.T) {
	st := memstore.New()
	srv := newTestServer(st, &fakeSupervisor{})

	rec := doJSON(t, srv.Handler(), "POST", "/v1/sessions",
		`{"childId": "c1", "mode": "cdi", "audioRef": "rec-001.wav", "durationSeconds": 300}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body)
	}

	var resp struct {
		SessionID string `json:"sessionId"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID == "" || resp.Status != "pending" {
		t.Errorf("response = %+v", resp)
	}

	sess, err := st.Session(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Mode != types.ModeCDI || sess.AudioRef != "rec-001.wav" {
		t.Errorf("stored session = %+v", sess)
	}
}

func TestCreateSession_RejectsBadInput(t *testing.T) {
	srv := newTestServer(memstore.New(), &fakeSupervisor{})
	cases := map[string]string{
		"bad mode":     `{"mode": "play", "audioRef": "a.wav"}`,
		"no audio ref": `{"mode": "cdi"}`,
		"not json":     `mode=cdi`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(t, srv.Handler(), "POST", "/v1/sessions", body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAnalyze_TriggersPipeline(t *testing.T) {
	st := memstore.New()
	seedSession(t, st, "s1", types.StatusPending)
	sup := &fakeSupervisor{}
	srv := newTestServer(st, sup)

	rec := doJSON(t, srv.Handler(), "POST", "/v1/sessions/s1/analyze", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body)
	}
	if len(sup.triggered) != 1 || sup.triggered[0] != "s1" {
		t.Errorf("triggered = %v", sup.triggered)
	}
}

func TestAnalyze_DuplicateTriggerConflicts(t *testing.T) {
	st := memstore.New()
	seedSession(t, st, "s1", types.StatusPending)
	sup := &fakeSupervisor{err: pipeline.ErrAlreadyRunning}
	srv := newTestServer(st, sup)

	rec := doJSON(t, srv.Handler(), "POST", "/v1/sessions/s1/analyze", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAnalyze_TerminalSessionConflicts(t *testing.T) {
	st := memstore.New()
	seedSession(t, st, "s1", types.StatusPending)
	if err := st.MarkProcessing(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkCompleted(context.Background(), "s1", store.CompletedFields{Score: 80}); err != nil {
		t.Fatal(err)
	}
	sup := &fakeSupervisor{}
	srv := newTestServer(st, sup)

	rec := doJSON(t, srv.Handler(), "POST", "/v1/sessions/s1/analyze", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(sup.triggered) != 0 {
		t.Error("completed session must not be re-triggered")
	}
}

func TestAnalyze_UnknownSessionIs404(t *testing.T) {
	srv := newTestServer(memstore.New(), &fakeSupervisor{})
	rec := doJSON(t, srv.Handler(), "POST", "/v1/sessions/missing/analyze", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAnalysis_ProcessingExposesStatusOnly(t *testing.T) {
	st := memstore.New()
	seedSession(t, st, "s1", types.StatusPending)
	if err := st.MarkProcessing(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(st, &fakeSupervisor{})

	rec := doJSON(t, srv.Handler(), "GET", "/v1/sessions/s1/analysis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report["status"] != "processing" {
		t.Errorf("status = %v", report["status"])
	}
	for _, forbidden := range []string{"score", "tagCounts", "transcript", "error"} {
		if _, ok := report[forbidden]; ok {
			t.Errorf("processing report leaks %q", forbidden)
		}
	}
}

func TestAnalysis_CompletedReturnsFullReport(t *testing.T) {
	st := memstore.New()
	seedSession(t, st, "s1", types.StatusPending)
	ctx := context.Background()
	if err := st.CreateUtterances(ctx, "s1", []types.Utterance{
		{OrderIndex: 0, SpeakerID: "speaker_0", Text: "Nice tower!", Role: types.RoleAdult, Tag: "unlabeled_praise"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkProcessing(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	fields := store.CompletedFields{
		Transcript: "adult: Nice tower!\n",
		TagCounts:  types.TagCounts{"unlabeled_praise": 1},
		Score:      48,
		Competency: &types.CompetencyAnalysis{TopMoment: "m", Feedback: "f", ExampleUtterance: 0, Activity: "blocks"},
	}
	if err := st.MarkCompleted(ctx, "s1", fields); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(st, &fakeSupervisor{})

	rec := doJSON(t, srv.Handler(), "GET", "/v1/sessions/s1/analysis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report types.AnalysisReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != types.StatusCompleted {
		t.Errorf("status = %s", report.Status)
	}
	if report.Score == nil || *report.Score != 48 {
		t.Errorf("score = %v, want 48", report.Score)
	}
	if len(report.Transcript) != 1 || report.Transcript[0].Tag != "unlabeled_praise" {
		t.Errorf("transcript = %+v", report.Transcript)
	}
	if report.Competency == nil || report.Competency.Activity != "blocks" {
		t.Errorf("competency = %+v", report.Competency)
	}
	if report.Coaching != nil {
		t.Error("absent enrichment must stay null in the report")
	}
}

func TestAnalysis_FailedCarriesMessage(t *testing.T) {
	st := memstore.New()
	seedSession(t, st, "s1", types.StatusPending)
	ctx := context.Background()
	if err := st.MarkProcessing(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkFailed(ctx, "s1", pipeline.FailureMessage, time.Now()); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(st, &fakeSupervisor{})

	rec := doJSON(t, srv.Handler(), "GET", "/v1/sessions/s1/analysis", "")
	var report types.AnalysisReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != types.StatusFailed || report.Error != pipeline.FailureMessage {
		t.Errorf("report = %+v", report)
	}
}

func TestHealthEndpointsRegistered(t *testing.T) {
	srv := newTestServer(memstore.New(), &fakeSupervisor{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := doJSON(t, srv.Handler(), "GET", path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func seedSession(t *testing.T, st store.Store, id string, status types.Status) {
	t.Helper()
	err := st.CreateSession(context.Background(), &types.Session{
		ID: id, ChildID: "c1", Mode: types.ModeCDI, AudioRef: "a.wav", Status: status,
	})
	if err != nil {
		t.Fatal(err)
	}
}
