package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quotarun/internal/config"
	"quotarun/internal/report"
)

const userAgent = "quotarun/0.1.0"

// Service defines the notification surface used by the orchestrator.
type Service interface {
	NotifyRunCompleted(ctx context.Context, summary report.Summary) error
	NotifyBudgetExhausted(ctx context.Context, summary report.Summary, longTermHours float64) error
	NotifyLaunchFailure(ctx context.Context, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, summary report.Summary) error {
	elapsed := (time.Duration(summary.ElapsedSeconds) * time.Second).String()
	message := fmt.Sprintf("Run finished (%s) after %d rounds in %s: %d ok, %d failed, %d artifacts, exit %d",
		summary.Termination, summary.Rounds, elapsed, summary.Successes, summary.Failures, summary.Artifacts, summary.ExitCode)

	data := payload{
		title:   "quotarun - Run Complete",
		message: message,
		tags:    []string{"quotarun", "run", "completed"},
	}
	if !summary.Clean() || summary.ExitCode != 0 {
		data.title = "quotarun - Run Complete (with errors)"
		data.tags = []string{"quotarun", "run", "warning"}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBudgetExhausted(ctx context.Context, summary report.Summary, longTermHours float64) error {
	data := payload{
		title: "quotarun - Daily Budget Exhausted",
		message: fmt.Sprintf("Stopped for the day after %d rounds: daily usage %.2fh, %d units this run",
			summary.Rounds, longTermHours, summary.UnitsProcessed),
		tags: []string{"quotarun", "quota", "exhausted"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyLaunchFailure(ctx context.Context, err error) error {
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "quotarun - Worker Launch Failed",
		message:  "Worker could not be started: " + detail,
		tags:     []string{"quotarun", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "quotarun - Test",
		message:  "Notification system test",
		tags:     []string{"quotarun", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, report.Summary) error             { return nil }
func (noopService) NotifyBudgetExhausted(context.Context, report.Summary, float64) error { return nil }
func (noopService) NotifyLaunchFailure(context.Context, error) error                     { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
