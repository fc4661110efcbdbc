package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pts-reporter/internal/store"
	"pts-reporter/internal/types"
)

type fakeRunner struct {
	outcome types.RunOutcome
	calls   atomic.Int32
	block   chan struct{}
}

func (f *fakeRunner) RunOnce(_ context.Context) types.RunOutcome {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.outcome
}

func openTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := New(nil, &fakeRunner{}).Routes()

	rec := doRequest(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTriggerRun(t *testing.T) {
	runner := &fakeRunner{outcome: types.RunOutcome{
		Succeeded:       true,
		EntriesReported: 3,
		StartedAt:       time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC),
	}}
	h := New(nil, runner).Routes()

	rec := doRequest(t, h, http.MethodPost, "/api/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if runner.calls.Load() != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls.Load())
	}

	var outcome types.RunOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if !outcome.Succeeded || outcome.EntriesReported != 3 {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestTriggerRunFailedOutcome(t *testing.T) {
	runner := &fakeRunner{outcome: types.RunOutcome{
		Succeeded: false,
		Errors:    []types.StageError{{Stage: types.StageFetch, Message: "boom"}},
	}}
	h := New(nil, runner).Routes()

	rec := doRequest(t, h, http.MethodPost, "/api/run")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestTriggerRunRejectsOverlap(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{outcome: types.RunOutcome{Succeeded: true}, block: block}
	h := New(nil, runner).Routes()

	firstDone := make(chan struct{})
	go func() {
		doRequest(t, h, http.MethodPost, "/api/run")
		close(firstDone)
	}()

	// Wait until the first run holds the lock.
	deadline := time.After(2 * time.Second)
	for runner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	rec := doRequest(t, h, http.MethodPost, "/api/run")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 while a run is in flight", rec.Code)
	}

	close(block)
	<-firstDone
}

func TestListRunsWithoutStore(t *testing.T) {
	h := New(nil, &fakeRunner{}).Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/runs")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	st := openTestStore(t)
	outcome := types.RunOutcome{
		Succeeded:       true,
		EntriesReported: 2,
		StartedAt:       time.Now().UTC(),
		FinishedAt:      time.Now().UTC(),
	}
	if err := st.SaveRun(context.Background(), outcome, nil); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	h := New(st, &fakeRunner{}).Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var runs []store.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].EntriesReported != 2 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestListRunsInvalidLimit(t *testing.T) {
	h := New(openTestStore(t), &fakeRunner{}).Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/runs?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRunEntries(t *testing.T) {
	st := openTestStore(t)
	outcome := types.RunOutcome{Succeeded: true, EntriesReported: 1,
		StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC()}
	entries := []types.EnrichedEntry{{
		RankingEntry: types.RankingEntry{Code: "7203", Name: "トヨタ自動車", Volume: 52400},
	}}
	if err := st.SaveRun(context.Background(), outcome, entries); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	h := New(st, &fakeRunner{}).Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/runs/1/entries")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []store.EntryRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(got) != 1 || got[0].Code != "7203" || got[0].Rank != 1 {
		t.Errorf("entries = %+v", got)
	}
}

func TestRunEntriesBadID(t *testing.T) {
	h := New(openTestStore(t), &fakeRunner{}).Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/runs/abc/entries")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
