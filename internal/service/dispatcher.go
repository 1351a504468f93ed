package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data/cryptoutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

const dispatchTimeout = 10 * time.Second

// channelConfig is the decrypted shape of a channel's transport settings.
// Webhook-style kinds need only the URL.
type channelConfig struct {
	URL string `json:"url"`
}

// webhookEnvelope is the payload posted to webhook-style channels.
type webhookEnvelope struct {
	AlertID     string              `json:"alert_id"`
	RuleID      string              `json:"rule_id"`
	WorkspaceID string              `json:"workspace_id"`
	AlertType   model.AlertType     `json:"alert_type"`
	Severity    model.AlertSeverity `json:"severity"`
	Title       string              `json:"title"`
	Body        string              `json:"body"`
	TriggeredAt time.Time           `json:"triggered_at"`
	DedupeKey   string              `json:"dedupe_key"`
	Metadata    json.RawMessage     `json:"metadata,omitempty"`
}

// AlertDispatcher delivers alerts to their workspace channels. Webhook, Slack,
// and Discord channels post over HTTP; email and push have no transport here
// and are skipped.
type AlertDispatcher struct {
	alerts   core.AlertRepository
	channels core.ChannelRepository
	crypto   cryptoutil.Encryptor
	client   *http.Client
	logger   *slog.Logger
}

// AlertDispatcherOptions holds the dependencies for creating an AlertDispatcher.
type AlertDispatcherOptions struct {
	Alerts   core.AlertRepository
	Channels core.ChannelRepository
	Crypto   cryptoutil.Encryptor
	Client   *http.Client
	Logger   *slog.Logger
}

// NewAlertDispatcher creates an AlertDispatcher with defaulted options.
func NewAlertDispatcher(opts AlertDispatcherOptions) *AlertDispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: dispatchTimeout}
	}
	if opts.Crypto == nil {
		opts.Crypto = cryptoutil.NoopEncryptor{}
	}
	return &AlertDispatcher{
		alerts:   opts.Alerts,
		channels: opts.Channels,
		crypto:   opts.Crypto,
		client:   opts.Client,
		logger:   opts.Logger,
	}
}

// Process executes one alerts-dispatch job. Returns an error only when every
// deliverable channel failed, so the queue retries the whole job.
func (d *AlertDispatcher) Process(ctx context.Context, payload model.DispatchJobPayload) error {
	alert, err := d.alerts.GetByID(ctx, payload.AlertID)
	if err != nil {
		return fmt.Errorf("load alert: %w", err)
	}
	if alert == nil {
		d.logger.WarnContext(ctx, "dispatch for missing alert, skipping",
			"alert_id", payload.AlertID)
		return nil
	}

	targets, err := d.resolveChannels(ctx, payload)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		d.logger.InfoContext(ctx, "no deliverable channels for alert",
			"alert_id", alert.ID, "requested", len(payload.Channels))
		return nil
	}

	body, err := json.Marshal(webhookEnvelope{
		AlertID:     alert.ID,
		RuleID:      payload.RuleID,
		WorkspaceID: payload.WorkspaceID,
		AlertType:   alert.AlertType,
		Severity:    alert.Severity,
		Title:       alert.Title,
		Body:        alert.Body,
		TriggeredAt: alert.TriggeredAt,
		DedupeKey:   payload.DedupeKey,
		Metadata:    alert.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook envelope: %w", err)
	}

	var sent []string
	var lastErr error
	for _, ch := range targets {
		if err := d.deliver(ctx, ch, alert, body); err != nil {
			lastErr = err
			d.logger.ErrorContext(ctx, "channel delivery failed",
				"alert_id", alert.ID, "channel_id", ch.ID, "kind", ch.Kind, "error", err)
			continue
		}
		sent = append(sent, ch.ID)
	}

	if len(sent) > 0 {
		if err := d.alerts.MarkChannelsSent(ctx, alert.ID, sent); err != nil {
			return fmt.Errorf("mark channels sent: %w", err)
		}
	}
	if len(sent) == 0 && lastErr != nil {
		return fmt.Errorf("alert dispatch: all channel deliveries failed: %w", lastErr)
	}

	d.logger.InfoContext(ctx, "alert dispatched",
		"alert_id", alert.ID, "channels_total", len(targets), "channels_sent", len(sent))
	return nil
}

// resolveChannels loads the workspace channels named by the payload, dropping
// disabled ones and kinds with no transport.
func (d *AlertDispatcher) resolveChannels(ctx context.Context, payload model.DispatchJobPayload) ([]*model.Channel, error) {
	if len(payload.Channels) == 0 {
		return nil, nil
	}
	all, err := d.channels.ListByWorkspace(ctx, payload.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace channels: %w", err)
	}

	wanted := make(map[string]struct{}, len(payload.Channels))
	for _, id := range payload.Channels {
		wanted[id] = struct{}{}
	}

	var targets []*model.Channel
	for _, ch := range all {
		if _, ok := wanted[ch.ID]; !ok || !ch.Enabled {
			continue
		}
		if !deliverable(ch.Kind) {
			d.logger.WarnContext(ctx, "channel kind has no transport, skipping",
				"channel_id", ch.ID, "kind", ch.Kind)
			continue
		}
		targets = append(targets, ch)
	}
	return targets, nil
}

func deliverable(kind model.ChannelKind) bool {
	switch kind {
	case model.ChannelWebhook, model.ChannelSlack, model.ChannelDiscord:
		return true
	default:
		return false
	}
}

// deliver posts one alert to one channel, shaping the body per channel kind.
func (d *AlertDispatcher) deliver(ctx context.Context, ch *model.Channel, alert *model.Alert, envelope []byte) error {
	raw, err := d.crypto.Decrypt(ch.EncryptedConfig)
	if err != nil {
		return fmt.Errorf("decrypt channel config: %w", err)
	}
	var cfg channelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse channel config: %w", err)
	}
	if cfg.URL == "" {
		return errors.New("channel config has no url")
	}

	body, err := channelBody(ch.Kind, alert, envelope)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to channel: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channel returned status %d", resp.StatusCode)
	}
	return nil
}

// channelBody shapes the outgoing message. Slack wants {"text"}, Discord
// {"content"}; plain webhooks get the full envelope.
func channelBody(kind model.ChannelKind, alert *model.Alert, envelope []byte) ([]byte, error) {
	switch kind {
	case model.ChannelSlack:
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("[%s] %s\n%s", alert.Severity, alert.Title, alert.Body),
		})
	case model.ChannelDiscord:
		return json.Marshal(map[string]string{
			"content": fmt.Sprintf("[%s] %s\n%s", alert.Severity, alert.Title, alert.Body),
		})
	default:
		return envelope, nil
	}
}
