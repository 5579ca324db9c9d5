package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/identity"
)

var initCmd = &cobra.Command{
	Use:   "init <agent-id> <endpoint>",
	Short: "Generate a keypair and write the identity file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, endpoint := args[0], args[1]
		if existing, err := identity.Load(flagIdentityPath); err != nil {
			return err
		} else if existing != nil {
			return errdefs.New(errdefs.KindValidation,
				"identity already exists at %s", flagIdentityPath)
		}

		id, err := identity.Generate(agentID, endpoint)
		if err != nil {
			return err
		}
		if err := id.Save(flagIdentityPath); err != nil {
			return err
		}

		emit(map[string]string{
			"agent_id":   id.AgentID,
			"endpoint":   id.Endpoint,
			"public_key": id.PublicKey,
			"path":       flagIdentityPath,
		}, func() {
			fmt.Printf("identity created: %s\n", flagIdentityPath)
			fmt.Printf("  agent_id:   %s\n", id.AgentID)
			fmt.Printf("  endpoint:   %s\n", id.Endpoint)
			fmt.Printf("  public_key: %s\n", id.PublicKey)
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
