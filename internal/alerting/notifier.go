package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Reason names the condition that triggered an alert.
type Reason string

const (
	// ReasonHighFlow fires when a site's flow reaches its historical P90.
	ReasonHighFlow Reason = "high_flow"
	// ReasonRapidRise fires when the 3-hour rate of change exceeds the
	// configured threshold.
	ReasonRapidRise Reason = "rapid_rise"
)

// Notification carries the alert context for one site.
type Notification struct {
	SiteID       string
	SiteName     string
	Timestamp    time.Time
	Flow         decimal.Decimal
	P90Flow      *decimal.Decimal
	PctChange3h  *decimal.Decimal
	ThresholdPct decimal.Decimal
	Reason       Reason
	Channels     []string
}

// Notifier dispatches alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert text via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("site", note.SiteID).
		Str("reason", string(note.Reason)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert dispatched")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Gauge Alert]\n")
	builder.WriteString(fmt.Sprintf("Site: %s", note.SiteID))
	if note.SiteName != "" {
		builder.WriteString(fmt.Sprintf(" (%s)", note.SiteName))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Flow: %s cfs\n", note.Flow.StringFixed(1)))
	if note.P90Flow != nil {
		builder.WriteString(fmt.Sprintf("P90: %s cfs\n", note.P90Flow.StringFixed(1)))
	}
	if note.PctChange3h != nil {
		builder.WriteString(fmt.Sprintf("3h change: %s%% (threshold %s%%)\n",
			note.PctChange3h.StringFixed(1), note.ThresholdPct.StringFixed(1)))
	}
	switch note.Reason {
	case ReasonHighFlow:
		builder.WriteString("Status: flow at or above historical P90\n")
	case ReasonRapidRise:
		builder.WriteString("Status: rapid rise\n")
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
