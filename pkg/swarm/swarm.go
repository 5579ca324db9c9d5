// Package swarm implements the membership protocol: creating swarms,
// minting invites, handling joins, leaving and kicking, plus the
// lifecycle notifications members exchange along the way.
package swarm

import (
	"context"
	"crypto/ed25519"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/token"
	"github.com/agentswarm/swarmgate/pkg/transport"
)

// Identity is the local agent's keys and address.
type Identity struct {
	AgentID    string
	Endpoint   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Service runs membership operations against the local store and
// delivers lifecycle notifications to peers.
type Service struct {
	store     *store.Manager
	transport *transport.Client
	identity  Identity
}

// NewService wires a membership service.
func NewService(st *store.Manager, tc *transport.Client, id Identity) *Service {
	return &Service{store: st, transport: tc, identity: id}
}

// Identity returns the local agent identity.
func (s *Service) Identity() Identity { return s.identity }

// CreateSwarm creates a new swarm with the local agent as master and
// sole member.
func (s *Service) CreateSwarm(ctx context.Context, name string, settings store.SwarmSettings) (*store.SwarmMembership, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errdefs.New(errdefs.KindValidation, "swarm name must not be empty")
	}
	if len(name) > 256 {
		return nil, errdefs.New(errdefs.KindValidation, "swarm name exceeds 256 characters")
	}

	now := time.Now().UTC()
	membership := &store.SwarmMembership{
		SwarmID:  uuid.NewString(),
		Name:     name,
		Master:   s.identity.AgentID,
		JoinedAt: now,
		Settings: settings,
		Members: []store.SwarmMember{{
			AgentID:   s.identity.AgentID,
			Endpoint:  s.identity.Endpoint,
			PublicKey: crypto.PublicKeyToBase64(s.identity.PublicKey),
			JoinedAt:  now,
		}},
	}
	if err := s.store.Membership().SaveSwarm(ctx, membership); err != nil {
		return nil, err
	}
	logger.InfoCF("swarm", "swarm created", map[string]any{
		"swarm_id": membership.SwarmID, "name": name,
	})
	return membership, nil
}

// Invite mints an invite URL for a swarm this agent masters. Invites
// are always signed with the master key; in swarms that allow member
// invites, members relay invite requests to the master rather than
// minting tokens themselves.
func (s *Service) Invite(ctx context.Context, swarmID string, expiresAt *time.Time, maxUses int) (string, error) {
	membership, err := s.store.Membership().GetSwarm(ctx, swarmID)
	if err != nil {
		return "", err
	}
	if membership == nil {
		return "", errdefs.New(errdefs.KindSwarmNotFound, "unknown swarm %s", swarmID)
	}
	if membership.Master != s.identity.AgentID {
		return "", errdefs.New(errdefs.KindNotMaster,
			"only the master of %s can mint invites", swarmID)
	}
	return token.MakeInvite(s.identity.PrivateKey, swarmID, s.identity.AgentID, s.identity.Endpoint, expiresAt, maxUses)
}

// GetSwarm returns the local view of one swarm, or a not-found error.
func (s *Service) GetSwarm(ctx context.Context, swarmID string) (*store.SwarmMembership, error) {
	membership, err := s.store.Membership().GetSwarm(ctx, swarmID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, errdefs.New(errdefs.KindSwarmNotFound, "unknown swarm %s", swarmID)
	}
	return membership, nil
}

// ListSwarms returns every swarm this agent belongs to.
func (s *Service) ListSwarms(ctx context.Context) ([]*store.SwarmMembership, error) {
	return s.store.Membership().GetAllSwarms(ctx)
}
