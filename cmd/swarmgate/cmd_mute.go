package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

var (
	muteSwarm  bool
	muteReason string
)

var muteCmd = &cobra.Command{
	Use:   "mute <agent-id|swarm-id>",
	Short: "Mute an agent or, with --swarm, a whole swarm",
	Long: "Muted senders are still persisted to the inbox; they just never\n" +
		"trigger a wake.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		ctx := context.Background()

		kind := "agent"
		if muteSwarm {
			kind = "swarm"
			err = e.service.MuteSwarm(ctx, args[0], muteReason)
		} else {
			err = e.service.MuteAgent(ctx, args[0], muteReason)
		}
		if err != nil {
			return err
		}
		emit(map[string]string{"status": "muted", kind: args[0]}, func() {
			fmt.Printf("muted %s %s\n", kind, args[0])
		})
		return nil
	},
}

var unmuteCmd = &cobra.Command{
	Use:   "unmute <agent-id|swarm-id>",
	Short: "Remove a mute",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		ctx := context.Background()

		kind := "agent"
		var removed bool
		if muteSwarm {
			kind = "swarm"
			removed, err = e.service.UnmuteSwarm(ctx, args[0])
		} else {
			removed, err = e.service.UnmuteAgent(ctx, args[0])
		}
		if err != nil {
			return err
		}
		if !removed {
			return errdefs.New(errdefs.KindValidation, "%s %s was not muted", kind, args[0])
		}
		emit(map[string]string{"status": "unmuted", kind: args[0]}, func() {
			fmt.Printf("unmuted %s %s\n", kind, args[0])
		})
		return nil
	},
}

func init() {
	muteCmd.Flags().BoolVar(&muteSwarm, "swarm", false, "treat the id as a swarm id")
	muteCmd.Flags().StringVar(&muteReason, "reason", "", "reason kept with the mute")
	unmuteCmd.Flags().BoolVar(&muteSwarm, "swarm", false, "treat the id as a swarm id")
	rootCmd.AddCommand(muteCmd, unmuteCmd)
}
