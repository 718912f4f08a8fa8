package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/metrics"
	"github.com/unablepath/memospark-notify/internal/notify"
)

// PushConfig holds the vendor push API settings.
type PushConfig struct {
	APIURL  string // e.g. https://onesignal.com/api/v1/notifications
	AppID   string
	APIKey  string // REST API key, sent as a basic credential
	Timeout time.Duration
}

// PushSender delivers through the vendor push REST API. Notifications
// are addressed by external user id, so the vendor resolves the actual
// device subscriptions. A non-2xx response is a delivery failure; this
// layer never retries.
type PushSender struct {
	client *http.Client
	cfg    PushConfig
	logger *zap.Logger
}

// NewPushSender creates a vendor push sender.
func NewPushSender(cfg PushConfig, logger *zap.Logger) *PushSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &PushSender{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// pushButton mirrors the vendor's action button shape.
type pushButton struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// pushRequest is the vendor REST payload.
type pushRequest struct {
	AppID                  string            `json:"app_id"`
	IncludeExternalUserIDs []string          `json:"include_external_user_ids"`
	Headings               map[string]string `json:"headings"`
	Contents               map[string]string `json:"contents"`
	Data                   json.RawMessage   `json:"data,omitempty"`
	Buttons                []pushButton      `json:"buttons,omitempty"`
	Priority               int               `json:"priority,omitempty"`
	IOSSound               string            `json:"ios_sound,omitempty"`
	IOSInterruptionLevel   string            `json:"ios_interruption_level,omitempty"`
	ChromeWebIcon          string            `json:"chrome_web_icon,omitempty"`
	ChromeWebBadge         string            `json:"chrome_web_badge,omitempty"`
	SendAfter              string            `json:"send_after,omitempty"`
}

type pushResponse struct {
	ID     string   `json:"id"`
	Errors []string `json:"errors"`
}

func vendorPriority(p notify.Priority) int {
	switch p {
	case notify.PriorityHigh, notify.PriorityUrgent:
		return 10
	default:
		return 5
	}
}

// Send POSTs the notification to the vendor API.
func (s *PushSender) Send(ctx context.Context, n *notify.Notification) error {
	if n.Channel != notify.ChannelPush {
		return fmt.Errorf("push sender only supports push, got: %s", n.Channel)
	}

	payload := pushRequest{
		AppID:                  s.cfg.AppID,
		IncludeExternalUserIDs: []string{n.UserID.String()},
		Headings:               map[string]string{"en": n.Title},
		Contents:               map[string]string{"en": n.Body},
		Data:                   n.Data,
		Priority:               vendorPriority(n.Priority),
		ChromeWebIcon:          n.Icon,
		ChromeWebBadge:         n.Badge,
	}
	for _, a := range n.Actions {
		payload.Buttons = append(payload.Buttons, pushButton{ID: a.ID, Text: a.Label})
	}
	if n.Priority == notify.PriorityUrgent {
		payload.IOSInterruptionLevel = "time-sensitive"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+s.cfg.APIKey)

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ObservePushSend(time.Since(start))
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push API returned status %d: %s", resp.StatusCode, string(respBytes))
	}

	var parsed pushResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return fmt.Errorf("push API response malformed: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("push API rejected notification: %v", parsed.Errors)
	}

	s.logger.Info("push notification delivered to vendor",
		zap.String("id", n.ID.String()),
		zap.String("vendor_id", parsed.ID),
		zap.String("user_id", n.UserID.String()),
	)
	return nil
}

// SupportsChannel checks if this sender supports the push channel.
func (s *PushSender) SupportsChannel(channel string) bool {
	return channel == notify.ChannelPush
}
