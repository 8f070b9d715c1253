package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"quotarun/internal/config"
	"quotarun/internal/notifications"
	"quotarun/internal/report"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), reqs...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyLaunchFailure(context.Background(), errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	clean := report.Summary{Termination: report.TerminationNoWork, Rounds: 3, Successes: 9, Artifacts: 40, ElapsedSeconds: 125}
	if err := svc.NotifyRunCompleted(ctx, clean); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	ceiling := report.Summary{Termination: report.TerminationRoundCeiling, Rounds: 30}
	if err := svc.NotifyRunCompleted(ctx, ceiling); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if err := svc.NotifyBudgetExhausted(ctx, report.Summary{Rounds: 4, UnitsProcessed: 12}, 7.2); err != nil {
		t.Fatalf("NotifyBudgetExhausted: %v", err)
	}
	if err := svc.NotifyLaunchFailure(ctx, errors.New("exec: not found")); err != nil {
		t.Fatalf("NotifyLaunchFailure: %v", err)
	}

	got := requests()
	if len(got) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(got))
	}
	if got[0].title != "quotarun - Run Complete" || !strings.Contains(got[0].body, "(no_work) after 3 rounds in 2m5s: 9 ok") {
		t.Fatalf("unexpected run completed payload %+v", got[0])
	}
	if got[1].title != "quotarun - Run Complete (with errors)" {
		t.Fatalf("round ceiling should be flagged, got %+v", got[1])
	}
	if got[2].tags != "quotarun,quota,exhausted" || !strings.Contains(got[2].body, "7.20h") {
		t.Fatalf("unexpected budget payload %+v", got[2])
	}
	if got[3].priority != "high" || !strings.Contains(got[3].body, "exec: not found") {
		t.Fatalf("unexpected launch failure payload %+v", got[3])
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
