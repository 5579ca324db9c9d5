package swarm

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/token"
)

// JoinRequest is the payload a joining agent POSTs to /swarm/join.
type JoinRequest struct {
	Token     string `json:"token"`
	AgentID   string `json:"agent_id"`
	Endpoint  string `json:"endpoint"`
	PublicKey string `json:"public_key"`
}

// JoinResult is the outcome of handling an inbound join.
type JoinResult struct {
	Swarm         *store.SwarmMembership
	Pending       bool
	AlreadyMember bool
}

// HandleJoin processes an inbound join request on the inviter side.
// The token's signature is verified against the swarm master's public
// key; re-joins by existing members succeed idempotently without
// notifying anyone.
func (s *Service) HandleJoin(ctx context.Context, req *JoinRequest) (*JoinResult, error) {
	if req.Token == "" || req.AgentID == "" || req.Endpoint == "" || req.PublicKey == "" {
		return nil, errdefs.New(errdefs.KindFormat, "join request requires token, agent_id, endpoint and public_key")
	}

	swarmID, err := token.ExtractSwarmID(req.Token)
	if err != nil {
		return nil, err
	}

	membership, err := s.store.Membership().GetSwarm(ctx, swarmID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, errdefs.New(errdefs.KindSwarmNotFound, "unknown swarm %s", swarmID)
	}

	master := membership.MasterMember()
	if master == nil {
		return nil, errdefs.New(errdefs.KindStorage, "swarm %s has no master member record", swarmID)
	}
	masterKey, err := crypto.PublicKeyFromBase64(master.PublicKey)
	if err != nil {
		return nil, err
	}
	if _, err := token.VerifyInvite(req.Token, masterKey, swarmID); err != nil {
		return nil, err
	}

	if membership.HasMember(req.AgentID) {
		logger.InfoCF("swarm", "join is a re-join, accepting idempotently", map[string]any{
			"swarm_id": swarmID, "agent_id": req.AgentID,
		})
		return &JoinResult{Swarm: membership, AlreadyMember: true}, nil
	}

	if membership.Settings.RequireApproval {
		logger.InfoCF("swarm", "join held for approval", map[string]any{
			"swarm_id": swarmID, "agent_id": req.AgentID,
		})
		return &JoinResult{Swarm: membership, Pending: true}, nil
	}

	member := store.SwarmMember{
		AgentID:   req.AgentID,
		Endpoint:  req.Endpoint,
		PublicKey: req.PublicKey,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.store.Membership().AddMember(ctx, swarmID, member); err != nil {
		return nil, err
	}
	membership.Members = append(membership.Members, member)

	s.notifyLifecycle(membership, lifecycleEvent{
		Action:  "member_joined",
		SwarmID: swarmID,
		AgentID: req.AgentID,
	}, req.AgentID)

	logger.InfoCF("swarm", "member joined", map[string]any{
		"swarm_id": swarmID, "agent_id": req.AgentID,
	})
	return &JoinResult{Swarm: membership}, nil
}

// JoinViaInvite joins a remote swarm from an invite URL: it POSTs the
// join request to the inviter and stores the returned membership. The
// master's identity comes from the token claims; the member list from
// the inviter's response.
func (s *Service) JoinViaInvite(ctx context.Context, inviteURL string) (*store.SwarmMembership, bool, error) {
	swarmID, compact, err := token.ParseInviteURL(inviteURL)
	if err != nil {
		return nil, false, err
	}
	claims, err := token.ExtractClaims(compact)
	if err != nil {
		return nil, false, err
	}
	host, err := inviteHost(inviteURL)
	if err != nil {
		return nil, false, err
	}

	resp, err := s.transport.Join(ctx, "https://"+host, &JoinRequest{
		Token:     compact,
		AgentID:   s.identity.AgentID,
		Endpoint:  s.identity.Endpoint,
		PublicKey: crypto.PublicKeyToBase64(s.identity.PublicKey),
	})
	if err != nil {
		return nil, false, err
	}
	if resp.Pending {
		logger.InfoCF("swarm", "join pending approval", map[string]any{"swarm_id": swarmID})
		return nil, true, nil
	}

	var members []store.SwarmMember
	if len(resp.Members) > 0 {
		if err := json.Unmarshal(resp.Members, &members); err != nil {
			return nil, false, errdefs.Wrap(errdefs.KindFormat, err, "join response members decoding failed")
		}
	}
	membership := &store.SwarmMembership{
		SwarmID:  swarmID,
		Name:     resp.SwarmName,
		Master:   claims.Master,
		JoinedAt: time.Now().UTC(),
		Members:  members,
	}
	if err := s.store.Membership().SaveSwarm(ctx, membership); err != nil {
		return nil, false, err
	}
	logger.InfoCF("swarm", "joined swarm", map[string]any{
		"swarm_id": membership.SwarmID, "name": membership.Name,
	})
	return membership, false, nil
}

// inviteHost pulls the inviter's host out of a swarm:// invite URL.
func inviteHost(inviteURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(inviteURL))
	if err != nil || u.Scheme != "swarm" || u.Host == "" {
		return "", errdefs.New(errdefs.KindFormat, "invite URL must look like swarm://<swarm_id>@<host>?token=...")
	}
	return u.Host, nil
}

// Leave removes this agent from a swarm it does not master. Remaining
// members are notified with a member_left broadcast.
func (s *Service) Leave(ctx context.Context, swarmID string) error {
	membership, err := s.GetSwarm(ctx, swarmID)
	if err != nil {
		return err
	}
	if membership.Master == s.identity.AgentID {
		return errdefs.New(errdefs.KindValidation,
			"the master cannot leave %s; transfer ownership first", swarmID)
	}
	if !membership.HasMember(s.identity.AgentID) {
		return errdefs.New(errdefs.KindNotMember, "not a member of %s", swarmID)
	}

	s.notifyLifecycle(membership, lifecycleEvent{
		Action:  "member_left",
		SwarmID: swarmID,
		AgentID: s.identity.AgentID,
	}, s.identity.AgentID)

	if _, err := s.store.Membership().DeleteSwarm(ctx, swarmID); err != nil {
		return err
	}
	logger.InfoCF("swarm", "left swarm", map[string]any{"swarm_id": swarmID})
	return nil
}

// Kick removes a member from a swarm this agent masters. The target
// gets a direct kicked notice; everyone else gets a member_kicked
// broadcast.
func (s *Service) Kick(ctx context.Context, swarmID, targetID, reason string) error {
	membership, err := s.GetSwarm(ctx, swarmID)
	if err != nil {
		return err
	}
	if membership.Master != s.identity.AgentID {
		return errdefs.New(errdefs.KindNotMaster, "only the master of %s can kick members", swarmID)
	}
	if targetID == s.identity.AgentID {
		return errdefs.New(errdefs.KindValidation, "the master cannot kick itself")
	}
	if !membership.HasMember(targetID) {
		return errdefs.New(errdefs.KindNotMember, "%s is not a member of %s", targetID, swarmID)
	}

	event := lifecycleEvent{
		Action:      "member_kicked",
		SwarmID:     swarmID,
		AgentID:     targetID,
		InitiatedBy: s.identity.AgentID,
		Reason:      reason,
	}
	// Direct notice to the kicked agent before its row disappears.
	for _, m := range membership.Members {
		if m.AgentID == targetID {
			s.sendLifecycle(m, swarmID, targetID, event)
		}
	}

	removed, err := s.store.Membership().RemoveMember(ctx, swarmID, targetID)
	if err != nil {
		return err
	}
	if !removed {
		return errdefs.New(errdefs.KindNotMember, "%s is not a member of %s", targetID, swarmID)
	}

	s.notifyLifecycle(membership, event, targetID)
	logger.InfoCF("swarm", "member kicked", map[string]any{
		"swarm_id": swarmID, "agent_id": targetID, "reason": reason,
	})
	return nil
}
