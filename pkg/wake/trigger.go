package wake

import (
	"context"
	"sync"
	"time"

	"github.com/agentswarm/swarmgate/pkg/bus"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/transport"
	"github.com/agentswarm/swarmgate/pkg/wire"
)

// Action is the outcome of wake processing for one message.
type Action string

const (
	// ActionSkipped means the sender or swarm is muted; the message
	// stays in the inbox but triggers nothing.
	ActionSkipped Action = "skipped"
	// ActionQueued means the message waits in the inbox until the
	// agent next runs.
	ActionQueued Action = "queued"
	// ActionWoken means a wake trigger was delivered.
	ActionWoken Action = "woken"
)

// TriggerConfig controls the outgoing wake trigger.
type TriggerConfig struct {
	Enabled        bool
	Endpoint       string
	TimeoutSeconds int

	// AgentID identifies the local agent so direct mentions can be
	// told apart from broadcasts.
	AgentID string
}

// Trigger consumes accepted messages and decides, per message, whether
// to wake the local agent. Messages are already persisted before they
// reach the trigger, so every path here is best-effort.
type Trigger struct {
	store  *store.Manager
	prefs  *Preferences
	client *transport.Client
	cfg    TriggerConfig

	// OnWake is called after each successful wake delivery.
	OnWake func()
}

// NewTrigger wires a wake trigger.
func NewTrigger(st *store.Manager, prefs *Preferences, client *transport.Client, cfg TriggerConfig) *Trigger {
	if prefs == nil {
		prefs = DefaultPreferences()
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	return &Trigger{store: st, prefs: prefs, client: client, cfg: cfg}
}

// Run consumes the bus until the context is cancelled.
func (t *Trigger) Run(ctx context.Context, mb *bus.MessageBus) {
	for {
		queued, ok := mb.Consume(ctx)
		if !ok {
			return
		}
		action, err := t.ProcessMessage(ctx, queued.Message)
		if err != nil {
			logger.WarnCF("wake", "wake processing failed", map[string]any{
				"message_id": queued.Message.MessageID, "error": err.Error(),
			})
			continue
		}
		logger.DebugCF("wake", "message processed", map[string]any{
			"message_id": queued.Message.MessageID, "action": string(action),
		})
	}
}

// ProcessMessage evaluates mutes and preferences for one message and
// fires at most one wake trigger for it.
func (t *Trigger) ProcessMessage(ctx context.Context, msg *wire.Message) (Action, error) {
	muted, err := t.store.Mutes().IsAgentMuted(ctx, msg.Sender.AgentID)
	if err != nil {
		return ActionQueued, err
	}
	if !muted {
		muted, err = t.store.Mutes().IsSwarmMuted(ctx, msg.SwarmID)
		if err != nil {
			return ActionQueued, err
		}
	}
	if muted {
		return ActionSkipped, nil
	}

	level := t.prefs.Evaluate(MessageContext{
		SenderID:        msg.Sender.AgentID,
		SwarmID:         msg.SwarmID,
		Content:         msg.Content,
		IsDirectMention: msg.Recipient != wire.Broadcast && msg.Recipient == t.cfg.AgentID,
		IsHighPriority:  msg.Priority == wire.PriorityHigh,
		IsSystemMessage: msg.Type == wire.TypeSystem,
		CurrentHour:     time.Now().Hour(),
	})
	if level == LevelSilent {
		return ActionQueued, nil
	}
	if !t.cfg.Enabled || t.cfg.Endpoint == "" {
		return ActionQueued, nil
	}

	payload := map[string]any{
		"message_id":         msg.MessageID,
		"swarm_id":           msg.SwarmID,
		"sender_id":          msg.Sender.AgentID,
		"notification_level": level.String(),
	}
	timeout := time.Duration(t.cfg.TimeoutSeconds) * time.Second
	if err := t.client.Wake(ctx, t.cfg.Endpoint, payload, timeout); err != nil {
		// The message is safe in the inbox; a failed wake just means
		// the agent picks it up on its next run.
		logger.WarnCF("wake", "wake trigger delivery failed", map[string]any{
			"endpoint": t.cfg.Endpoint, "error": err.Error(),
		})
		return ActionQueued, nil
	}
	if t.OnWake != nil {
		t.OnWake()
	}
	return ActionWoken, nil
}

// Coordinator serialises agent invocations behind a lock so concurrent
// wake requests start at most one session. Peer session continuity is
// tracked in the store per (swarm, sender).
type Coordinator struct {
	mu       sync.Mutex
	invoker  Invoker
	sessions *SessionManager
	peers    *store.SessionRepo
	timeout  int
}

// NewCoordinator wires the invocation coordinator. peers may be nil
// when per-peer continuity is not wanted; timeoutMinutes is the session
// resume window.
func NewCoordinator(invoker Invoker, sessions *SessionManager, peers *store.SessionRepo, timeoutMinutes int) *Coordinator {
	if timeoutMinutes <= 0 {
		timeoutMinutes = 30
	}
	return &Coordinator{invoker: invoker, sessions: sessions, peers: peers, timeout: timeoutMinutes}
}

// WakeStatus is the outcome of a wake endpoint request.
type WakeStatus string

const (
	WakeInvoked       WakeStatus = "invoked"
	WakeAlreadyActive WakeStatus = "already_active"
	WakeInProgress    WakeStatus = "in_progress"
)

// HandleWake runs one wake request. When an invocation is already in
// flight the request is dropped; when a fresh session is active the
// session is touched instead of re-invoked; otherwise the invoker runs
// in the background. The resume hint comes from the (swarm, sender)
// peer session when one is known, else from the session file.
func (c *Coordinator) HandleWake(prompt, swarmID, senderID string) (WakeStatus, string, error) {
	if !c.mu.TryLock() {
		return WakeInProgress, "", nil
	}

	session, _ := c.sessions.Load()
	if session != nil && session.State == SessionActive &&
		time.Since(session.LastActive) < time.Duration(c.timeout)*time.Minute {
		c.mu.Unlock()
		c.sessions.Touch()
		return WakeAlreadyActive, session.SessionID, nil
	}

	resumeID, err := c.resolveResume(swarmID, senderID)
	if err != nil {
		c.mu.Unlock()
		return "", "", err
	}

	go func() {
		defer c.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		sessionID, err := c.invoker.Invoke(ctx, prompt, resumeID)
		if err != nil {
			logger.ErrorCF("wake", "invocation failed", map[string]any{"error": err.Error()})
			return
		}
		if sessionID == "" {
			sessionID = resumeID
		}
		if sessionID == "" {
			return
		}
		c.persist(ctx, session, sessionID, swarmID, senderID)
	}()
	return WakeInvoked, resumeID, nil
}

// resolveResume picks the session id to resume, preferring the stored
// peer session for (swarm, sender) over the process session file.
func (c *Coordinator) resolveResume(swarmID, senderID string) (string, error) {
	if c.peers != nil && swarmID != "" && senderID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		peer, err := c.peers.GetActive(ctx, swarmID, senderID, c.timeout)
		if err != nil {
			return "", err
		}
		if peer != nil {
			return peer.SessionID, nil
		}
	}
	return c.sessions.ShouldResume(c.timeout)
}

// persist records the invocation outcome in the session file and, when
// the wake named a peer, in the peer session table.
func (c *Coordinator) persist(ctx context.Context, prev *Session, sessionID, swarmID, senderID string) {
	now := time.Now().UTC()
	s := &Session{
		SessionID:         sessionID,
		State:             SessionActive,
		StartedAt:         now,
		LastActive:        now,
		MessagesProcessed: 1,
		CurrentSwarm:      swarmID,
	}
	if prev != nil && prev.SessionID == sessionID {
		s.StartedAt = prev.StartedAt
		s.MessagesProcessed = prev.MessagesProcessed + 1
	}
	if err := c.sessions.Save(s); err != nil {
		logger.WarnCF("wake", "session persist failed", map[string]any{"error": err.Error()})
	}
	if c.peers != nil && swarmID != "" && senderID != "" {
		if err := c.peers.Upsert(ctx, swarmID, senderID, sessionID); err != nil {
			logger.WarnCF("wake", "peer session persist failed", map[string]any{"error": err.Error()})
		}
	}
}
