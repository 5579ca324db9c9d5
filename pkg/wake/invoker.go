package wake

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// Invoker starts or resumes the local agent in response to a wake.
// It returns the session id of the invocation when the method can
// report one, otherwise "".
type Invoker interface {
	Invoke(ctx context.Context, prompt, resumeSessionID string) (string, error)
}

// NewInvoker builds the invoker for a configured method.
func NewInvoker(method, tmuxTarget, webhookURL string) (Invoker, error) {
	switch method {
	case "noop", "":
		return NoopInvoker{}, nil
	case "tmux":
		if tmuxTarget == "" {
			return nil, errdefs.New(errdefs.KindValidation, "tmux invocation requires a target pane")
		}
		return &TmuxInvoker{Target: tmuxTarget}, nil
	case "webhook":
		if webhookURL == "" {
			return nil, errdefs.New(errdefs.KindValidation, "webhook invocation requires a URL")
		}
		return &WebhookInvoker{URL: webhookURL, client: &http.Client{Timeout: 30 * time.Second}}, nil
	default:
		return nil, errdefs.New(errdefs.KindValidation, "unknown invoke method %q", method)
	}
}

// NoopInvoker logs the wake and does nothing else. Useful when an
// external supervisor watches the inbox instead.
type NoopInvoker struct{}

func (NoopInvoker) Invoke(_ context.Context, prompt, resumeSessionID string) (string, error) {
	logger.InfoCF("wake", "noop invocation", map[string]any{
		"prompt_len": len(prompt), "resume": resumeSessionID != "",
	})
	return "", nil
}

// TmuxInvoker types the prompt into a tmux pane. The text and the
// Enter key are sent separately with a short pause so the target's
// input handling keeps up.
type TmuxInvoker struct {
	Target string
}

func (t *TmuxInvoker) Invoke(ctx context.Context, prompt, _ string) (string, error) {
	send := exec.CommandContext(ctx, "tmux", "send-keys", "-t", t.Target, prompt)
	if out, err := send.CombinedOutput(); err != nil {
		return "", errdefs.Wrap(errdefs.KindInvocation, err, "tmux send-keys failed: %s", bytes.TrimSpace(out))
	}
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
		return "", errdefs.Wrap(errdefs.KindInvocation, ctx.Err(), "tmux invocation cancelled")
	}
	enter := exec.CommandContext(ctx, "tmux", "send-keys", "-t", t.Target, "C-m")
	if out, err := enter.CombinedOutput(); err != nil {
		return "", errdefs.Wrap(errdefs.KindInvocation, err, "tmux enter failed: %s", bytes.TrimSpace(out))
	}
	return "", nil
}

// WebhookInvoker POSTs the wake to an HTTP endpoint. The endpoint may
// return {"session_id": "..."} to report the session it started.
type WebhookInvoker struct {
	URL    string
	client *http.Client
}

func (w *WebhookInvoker) Invoke(ctx context.Context, prompt, resumeSessionID string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"prompt":     prompt,
		"session_id": resumeSessionID,
	})
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindInvocation, err, "webhook payload encoding failed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindInvocation, err, "webhook request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindInvocation, err, "webhook delivery failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return "", errdefs.New(errdefs.KindInvocation, "webhook returned %d", resp.StatusCode)
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if len(body) > 0 {
		json.Unmarshal(body, &out)
	}
	return out.SessionID, nil
}
