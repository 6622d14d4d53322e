package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"taxline/internal/config"
	"taxline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// ErrNoSubscriber is returned when webhooks are configured but none takes the
// notice's stream; the reminder stays due.
var ErrNoSubscriber = errors.New("no webhook subscribed to stream")

// WebhookDispatcher POSTs each notice as JSON to every enabled webhook whose
// stream filter matches. Any failed hook fails the whole dispatch so the
// reminder is retried on the next sweep.
type WebhookDispatcher struct {
	Hooks  []config.WebhookConfig
	Client *http.Client
	Logger *log.Logger
}

func NewWebhookDispatcher(hooks []config.WebhookConfig) *WebhookDispatcher {
	return &WebhookDispatcher{Hooks: hooks, Client: &http.Client{Timeout: defaultWebhookTimeout}}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, n Notice) error {
	var (
		errs    []error
		matched int
	)
	for _, hook := range d.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" || !newStreamFilter(hook.Streams).match(n.Stream) {
			continue
		}
		matched++
		if err := d.post(ctx, hook, n); err != nil {
			d.logf("webhook %s: %s reminder for %s: %v", hook.URL, n.Stream, n.EngagementID, err)
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	if matched == 0 {
		return fmt.Errorf("%s: %w", n.Stream, ErrNoSubscriber)
	}
	return errors.Join(errs...)
}

func (d *WebhookDispatcher) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, n Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taxline-Stream", string(n.Stream))
	req.Header.Set("X-Taxline-Delivery", fmt.Sprintf("%s:%d", n.ReminderID, n.Sequence))
	req.Header.Set("X-Taxline-Engagement", n.EngagementID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Taxline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type streamFilter struct {
	all bool
	set map[domain.Stream]struct{}
}

func newStreamFilter(streams []string) streamFilter {
	set := make(map[domain.Stream]struct{}, len(streams))
	for _, s := range streams {
		key := strings.ToUpper(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		set[domain.Stream(key)] = struct{}{}
	}
	if len(set) == 0 {
		return streamFilter{all: true}
	}
	return streamFilter{set: set}
}

func (f streamFilter) match(s domain.Stream) bool {
	if f.all {
		return true
	}
	_, ok := f.set[s]
	return ok
}

// LogDispatcher accepts every notice and only logs it. Used for dry runs and
// when no webhook is configured.
type LogDispatcher struct {
	Logger *log.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, n Notice) error {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("reminder due: %s %s/%s %d (#%d)", n.Stream, n.ClientID, n.EntityID, n.TaxYear, n.Sequence)
	return nil
}

// ForConfig picks the webhook dispatcher when any webhook is configured.
func ForConfig(cfg *config.Config, logger *log.Logger) Dispatcher {
	if cfg != nil && len(cfg.Webhooks) > 0 {
		d := NewWebhookDispatcher(cfg.Webhooks)
		d.Logger = logger
		return d
	}
	return LogDispatcher{Logger: logger}
}
