// Command swarmgate is the agent-side CLI for the swarm messaging
// protocol: identity setup, the server daemon, membership operations
// and inbox management.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/identity"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/swarm"
	"github.com/agentswarm/swarmgate/pkg/transport"
)

// Exit codes: 0 success, 1 generic failure, 2 validation, 3 transport,
// 4 authorization, 5 not found.
const (
	exitOK         = 0
	exitGeneric    = 1
	exitValidation = 2
	exitTransport  = 3
	exitAuth       = 4
	exitNotFound   = 5
)

var (
	flagJSON         bool
	flagIdentityPath string
	flagDBPath       string
	flagVerbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "swarmgate",
	Short:         "Peer-to-peer messaging for agent swarms",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			logger.SetLevel(logger.DEBUG)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit JSON output")
	rootCmd.PersistentFlags().StringVar(&flagIdentityPath, "identity", "data/identity.json", "identity file path")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// Execute runs the CLI and maps the failure kind to an exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		switch errdefs.KindOf(err) {
		case errdefs.KindValidation, errdefs.KindFormat, errdefs.KindExpired:
			return exitValidation
		case errdefs.KindTransport, errdefs.KindRateLimited:
			return exitTransport
		case errdefs.KindSignature, errdefs.KindNotMaster, errdefs.KindNotMember:
			return exitAuth
		case errdefs.KindSwarmNotFound:
			return exitNotFound
		default:
			return exitGeneric
		}
	}
	return exitOK
}

// env wires the pieces most commands need.
type env struct {
	identity *identity.Identity
	store    *store.Manager
	service  *swarm.Service
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
}

// openEnv loads the identity file and opens the store.
func openEnv() (*env, error) {
	id, err := identity.Load(flagIdentityPath)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, errdefs.New(errdefs.KindValidation,
			"no identity at %s; run `swarmgate init` first", flagIdentityPath)
	}
	pub, priv, err := id.Keys()
	if err != nil {
		return nil, err
	}

	dbPath := flagDBPath
	if dbPath == "" {
		dbPath = os.Getenv("DB_PATH")
	}
	if dbPath == "" {
		dbPath = "data/swarm.db"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	svc := swarm.NewService(st, transport.New(id.AgentID), swarm.Identity{
		AgentID:    id.AgentID,
		Endpoint:   id.Endpoint,
		PublicKey:  pub,
		PrivateKey: priv,
	})
	return &env{identity: id, store: st, service: svc}, nil
}

// emit prints v as indented JSON with --json, otherwise via human.
func emit(v any, human func()) {
	if flagJSON {
		data, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(data))
		return
	}
	human()
}
