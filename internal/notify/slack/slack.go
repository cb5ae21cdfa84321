// Package slack posts manual review digests to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/settle/internal/resolution"
)

const (
	maxPairs      = 20
	maxSubjectLen = 120
	httpTimeout   = 10 * time.Second
)

// Notifier sends manual review reports to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts the report to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, r *resolution.Report) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(r))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack digest sent", "run_id", r.RunID, "pairs", len(r.Pairs))
	return nil
}

func buildMessage(r *resolution.Report) map[string]any {
	return map[string]any{
		"text": r.Subject,
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			pairsBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *resolution.Report) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": "\U0001f7e1 " + r.Subject, // yellow circle
		},
	}
}

func fieldsBlock(r *resolution.Report) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Pairs:* %d", len(r.Pairs)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Auto-close threshold:* %s", resolution.ThresholdText(r.Threshold)),
		},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func pairsBlock(r *resolution.Report) map[string]any {
	var b strings.Builder
	b.WriteString("*Pairs resolved outside the threshold*\n")
	for i, p := range r.Pairs {
		if i == maxPairs {
			fmt.Fprintf(&b, "_and %d more_\n", len(r.Pairs)-maxPairs)
			break
		}
		fmt.Fprintf(&b, "• #%d %s → #%d %s (%.1f min)\n",
			p.FiringID, escape(truncate(p.FiringSubject, maxSubjectLen)),
			p.ResolvedID, escape(truncate(p.ResolvedSubject, maxSubjectLen)),
			p.TimeDiffMinutes)
	}
	if len(r.Pairs) == 0 {
		b.WriteString("_No pairs._\n")
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": strings.TrimRight(b.String(), "\n"),
		},
	}
}

func contextBlock(r *resolution.Report) map[string]any {
	ts := r.GeneratedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("settle • run %s • %s", r.RunID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

// escape neutralizes the characters Slack treats as control sequences.
func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// truncate limits s to limit bytes, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
