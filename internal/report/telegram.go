// Package report pushes fleet status summaries to Telegram.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const apiBase = "https://api.telegram.org"

// Reporter sends status messages through the Telegram bot API.
// Disabled reporters accept calls and do nothing, so callers never
// need to special-case the configuration.
type Reporter struct {
	client  *resty.Client
	token   string
	chatID  string
	enabled bool
	logger  *zap.Logger
}

func NewReporter(token, chatID string, enabled bool, logger *zap.Logger) *Reporter {
	return &Reporter{
		client:  resty.New().SetBaseURL(apiBase),
		token:   token,
		chatID:  chatID,
		enabled: enabled && token != "" && chatID != "",
		logger:  logger,
	}
}

// SendStatus posts a one-line-per-process summary of the pool.
func (r *Reporter) SendStatus(ctx context.Context, processes []types.Process) error {
	if !r.enabled {
		return nil
	}

	var b strings.Builder
	b.WriteString("Fleet status:\n")
	if len(processes) == 0 {
		b.WriteString("no processes in pool\n")
	}
	for _, p := range processes {
		fmt.Fprintf(&b, "%s [%s] device=%s followers=%d following=%d crashes=%d/%d\n",
			p.Account, p.Status, p.Device.ID, p.Followers, p.Following,
			p.TotalCrashes, types.CrashLimit)
	}
	return r.send(ctx, b.String())
}

func (r *Reporter) send(ctx context.Context, text string) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": r.chatID,
			"text":    text,
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", r.token))
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send failed: status %d", resp.StatusCode())
	}
	r.logger.Info("status report sent", zap.Int("bytes", len(text)))
	return nil
}
