package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmgate/pkg/store"
)

var (
	createAllowMemberInvite bool
	createRequireApproval   bool
	inviteExpiresIn         time.Duration
	inviteMaxUses           int
	kickReason              string
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a swarm with this agent as master",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		membership, err := e.service.CreateSwarm(context.Background(), args[0], store.SwarmSettings{
			AllowMemberInvite: createAllowMemberInvite,
			RequireApproval:   createRequireApproval,
		})
		if err != nil {
			return err
		}
		emit(membership, func() {
			fmt.Printf("swarm created: %s (%s)\n", membership.Name, membership.SwarmID)
		})
		return nil
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite <swarm-id>",
	Short: "Mint an invite URL for a swarm you master",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		var expiresAt *time.Time
		if inviteExpiresIn > 0 {
			t := time.Now().UTC().Add(inviteExpiresIn)
			expiresAt = &t
		}
		url, err := e.service.Invite(context.Background(), args[0], expiresAt, inviteMaxUses)
		if err != nil {
			return err
		}
		emit(map[string]string{"invite": url}, func() { fmt.Println(url) })
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <invite-url>",
	Short: "Join a swarm from an invite URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		membership, pending, err := e.service.JoinViaInvite(context.Background(), args[0])
		if err != nil {
			return err
		}
		if pending {
			emit(map[string]string{"status": "pending"}, func() {
				fmt.Println("join request submitted; awaiting master approval")
			})
			return nil
		}
		emit(membership, func() {
			fmt.Printf("joined swarm %s (%s) with %d member(s)\n",
				membership.Name, membership.SwarmID, len(membership.Members))
		})
		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave <swarm-id>",
	Short: "Leave a swarm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.service.Leave(context.Background(), args[0]); err != nil {
			return err
		}
		emit(map[string]string{"status": "left", "swarm_id": args[0]}, func() {
			fmt.Printf("left swarm %s\n", args[0])
		})
		return nil
	},
}

var kickCmd = &cobra.Command{
	Use:   "kick <swarm-id> <agent-id>",
	Short: "Remove a member from a swarm you master",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.service.Kick(context.Background(), args[0], args[1], kickReason); err != nil {
			return err
		}
		emit(map[string]string{"status": "kicked", "swarm_id": args[0], "agent_id": args[1]}, func() {
			fmt.Printf("kicked %s from %s\n", args[1], args[0])
		})
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show identity, swarms and inbox counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		ctx := context.Background()

		swarms, err := e.service.ListSwarms(ctx)
		if err != nil {
			return err
		}
		counts, err := e.store.Inbox().Count(ctx, "")
		if err != nil {
			return err
		}
		outCounts, err := e.store.Outbox().Count(ctx, "")
		if err != nil {
			return err
		}

		emit(map[string]any{
			"agent_id": e.identity.AgentID,
			"endpoint": e.identity.Endpoint,
			"swarms":   swarms,
			"inbox":    counts,
			"outbox":   outCounts,
		}, func() {
			fmt.Printf("agent:  %s (%s)\n", e.identity.AgentID, e.identity.Endpoint)
			fmt.Printf("inbox:  %d unread, %d read, %d archived\n", counts.Unread, counts.Read, counts.Archived)
			fmt.Printf("outbox: %d sent, %d delivered, %d failed\n", outCounts.Sent, outCounts.Delivered, outCounts.Failed)
			fmt.Printf("swarms: %d\n", len(swarms))
			for _, s := range swarms {
				role := "member"
				if s.Master == e.identity.AgentID {
					role = "master"
				}
				fmt.Printf("  %s  %s  (%s, %d members)\n", s.SwarmID, s.Name, role, len(s.Members))
			}
		})
		return nil
	},
}

func init() {
	createCmd.Flags().BoolVar(&createAllowMemberInvite, "allow-member-invite", false, "let members request invites")
	createCmd.Flags().BoolVar(&createRequireApproval, "require-approval", false, "hold joins for master approval")
	inviteCmd.Flags().DurationVar(&inviteExpiresIn, "expires-in", 0, "invite lifetime (0 = no expiry)")
	inviteCmd.Flags().IntVar(&inviteMaxUses, "max-uses", 0, "maximum uses (0 = unlimited)")
	kickCmd.Flags().StringVar(&kickReason, "reason", "", "reason recorded in the kick notification")
	rootCmd.AddCommand(createCmd, inviteCmd, joinCmd, leaveCmd, kickCmd, statusCmd)
}
