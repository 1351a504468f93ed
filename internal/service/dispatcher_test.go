package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/data/cryptoutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// captureServer records the bodies posted to it and answers with the given
// status.
type captureServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies [][]byte
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()

	s := &captureServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *captureServer) lastBody(t *testing.T) []byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.bodies)
	return s.bodies[len(s.bodies)-1]
}

func channelCiphertext(t *testing.T, url string) string {
	t.Helper()

	raw, err := json.Marshal(channelConfig{URL: url})
	require.NoError(t, err)
	ct, err := cryptoutil.NoopEncryptor{}.Encrypt(raw)
	require.NoError(t, err)
	return ct
}

type dispatchHarness struct {
	alerts     *fakeAlertRepo
	channels   *fakeChannelRepo
	dispatcher *AlertDispatcher
	alert      *model.Alert
}

func newDispatchHarness(t *testing.T, channels ...*model.Channel) *dispatchHarness {
	t.Helper()

	h := &dispatchHarness{
		alerts:   newFakeAlertRepo(),
		channels: newFakeChannelRepo(channels...),
	}
	alert, created, err := h.alerts.Create(context.Background(), &model.CreateAlertRequest{
		RuleID:      "rule-1",
		TriggeredAt: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Severity:    model.AlertSeverityMedium,
		AlertType:   model.AlertTypeValueChanged,
		Title:       "Price changed",
		Body:        "price:19.95:USD -> price:24.95:USD",
		DedupeKey:   "rule-1:c1:deadbeef:2026-08-24",
	})
	require.NoError(t, err)
	require.True(t, created)
	h.alert = alert

	h.dispatcher = NewAlertDispatcher(AlertDispatcherOptions{
		Alerts:   h.alerts,
		Channels: h.channels,
		Crypto:   cryptoutil.NoopEncryptor{},
	})
	return h
}

func (h *dispatchHarness) payload(channelIDs ...string) model.DispatchJobPayload {
	return model.DispatchJobPayload{
		AlertID:     h.alert.ID,
		WorkspaceID: "ws-1",
		RuleID:      "rule-1",
		Channels:    channelIDs,
		DedupeKey:   h.alert.DedupeKey,
	}
}

func TestDispatchWebhookDelivers(t *testing.T) {
	t.Parallel()

	srv := newCaptureServer(t, http.StatusOK)
	h := newDispatchHarness(t, &model.Channel{
		ID:              "ch-1",
		WorkspaceID:     "ws-1",
		Kind:            model.ChannelWebhook,
		EncryptedConfig: channelCiphertext(t, srv.URL),
		Enabled:         true,
	})

	require.NoError(t, h.dispatcher.Process(context.Background(), h.payload("ch-1")))

	var env webhookEnvelope
	require.NoError(t, json.Unmarshal(srv.lastBody(t), &env))
	assert.Equal(t, h.alert.ID, env.AlertID)
	assert.Equal(t, "rule-1", env.RuleID)
	assert.Equal(t, model.AlertTypeValueChanged, env.AlertType)
	assert.Equal(t, "Price changed", env.Title)
	assert.Equal(t, h.alert.DedupeKey, env.DedupeKey)

	assert.Equal(t, []string{"ch-1"}, h.alerts.channelsSent[h.alert.ID])
}

func TestDispatchSlackAndDiscordBodies(t *testing.T) {
	t.Parallel()

	slackSrv := newCaptureServer(t, http.StatusOK)
	discordSrv := newCaptureServer(t, http.StatusNoContent)
	h := newDispatchHarness(t,
		&model.Channel{
			ID: "ch-1", WorkspaceID: "ws-1", Kind: model.ChannelSlack,
			EncryptedConfig: channelCiphertext(t, slackSrv.URL), Enabled: true,
		},
		&model.Channel{
			ID: "ch-2", WorkspaceID: "ws-1", Kind: model.ChannelDiscord,
			EncryptedConfig: channelCiphertext(t, discordSrv.URL), Enabled: true,
		},
	)

	require.NoError(t, h.dispatcher.Process(context.Background(), h.payload("ch-1", "ch-2")))

	var slackMsg map[string]string
	require.NoError(t, json.Unmarshal(slackSrv.lastBody(t), &slackMsg))
	assert.Contains(t, slackMsg["text"], "Price changed")
	assert.Contains(t, slackMsg["text"], "medium")

	var discordMsg map[string]string
	require.NoError(t, json.Unmarshal(discordSrv.lastBody(t), &discordMsg))
	assert.Contains(t, discordMsg["content"], "Price changed")

	assert.ElementsMatch(t, []string{"ch-1", "ch-2"}, h.alerts.channelsSent[h.alert.ID])
}

func TestDispatchSkipsDisabledAndUnsupportedChannels(t *testing.T) {
	t.Parallel()

	srv := newCaptureServer(t, http.StatusOK)
	h := newDispatchHarness(t,
		&model.Channel{
			ID: "ch-1", WorkspaceID: "ws-1", Kind: model.ChannelWebhook,
			EncryptedConfig: channelCiphertext(t, srv.URL), Enabled: false,
		},
		&model.Channel{
			ID: "ch-2", WorkspaceID: "ws-1", Kind: model.ChannelEmail,
			EncryptedConfig: channelCiphertext(t, srv.URL), Enabled: true,
		},
	)

	require.NoError(t, h.dispatcher.Process(context.Background(), h.payload("ch-1", "ch-2")))

	assert.Empty(t, srv.bodies)
	assert.Empty(t, h.alerts.channelsSent[h.alert.ID])
}

func TestDispatchMissingAlertSkips(t *testing.T) {
	t.Parallel()

	h := newDispatchHarness(t)
	payload := h.payload("ch-1")
	payload.AlertID = "alert-gone"

	require.NoError(t, h.dispatcher.Process(context.Background(), payload))
	assert.Empty(t, h.alerts.channelsSent)
}

func TestDispatchAllFailuresReturnError(t *testing.T) {
	t.Parallel()

	srv := newCaptureServer(t, http.StatusBadGateway)
	h := newDispatchHarness(t, &model.Channel{
		ID: "ch-1", WorkspaceID: "ws-1", Kind: model.ChannelWebhook,
		EncryptedConfig: channelCiphertext(t, srv.URL), Enabled: true,
	})

	err := h.dispatcher.Process(context.Background(), h.payload("ch-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Empty(t, h.alerts.channelsSent[h.alert.ID])
}

func TestDispatchPartialFailureMarksDelivered(t *testing.T) {
	t.Parallel()

	okSrv := newCaptureServer(t, http.StatusOK)
	badSrv := newCaptureServer(t, http.StatusInternalServerError)
	h := newDispatchHarness(t,
		&model.Channel{
			ID: "ch-1", WorkspaceID: "ws-1", Kind: model.ChannelWebhook,
			EncryptedConfig: channelCiphertext(t, badSrv.URL), Enabled: true,
		},
		&model.Channel{
			ID: "ch-2", WorkspaceID: "ws-1", Kind: model.ChannelWebhook,
			EncryptedConfig: channelCiphertext(t, okSrv.URL), Enabled: true,
		},
	)

	require.NoError(t, h.dispatcher.Process(context.Background(), h.payload("ch-1", "ch-2")))
	assert.Equal(t, []string{"ch-2"}, h.alerts.channelsSent[h.alert.ID])
}

func TestDispatchUndecryptableConfigFails(t *testing.T) {
	t.Parallel()

	h := newDispatchHarness(t, &model.Channel{
		ID: "ch-1", WorkspaceID: "ws-1", Kind: model.ChannelWebhook,
		EncryptedConfig: "not-a-ciphertext", Enabled: true,
	})

	err := h.dispatcher.Process(context.Background(), h.payload("ch-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt channel config")
}
