package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/store"
)

var (
	importMerge        bool
	purgeDeletedHours  int
	purgeArchived      bool
	purgeArchivedHours int
	purgeSessions      bool
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the full store as a JSON snapshot (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		snap, err := e.store.Export(context.Background(), e.identity.AgentID)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return errdefs.Wrap(errdefs.KindFormat, err, "snapshot encoding failed")
		}
		if len(args) == 1 {
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return errdefs.Wrap(errdefs.KindStorage, err, "cannot write snapshot file")
			}
			fmt.Fprintf(os.Stderr, "exported %d swarm(s) to %s\n", len(snap.Swarms), args[0])
			return nil
		}
		fmt.Println(string(data))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON snapshot",
	Long: "Without --merge the existing tables are replaced. With --merge,\n" +
		"rows already present locally win on conflict.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return errdefs.Wrap(errdefs.KindImport, err, "cannot read snapshot file")
		}
		var snap store.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return errdefs.Wrap(errdefs.KindImport, err, "snapshot is not valid JSON")
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.store.Import(context.Background(), &snap, importMerge); err != nil {
			return err
		}
		emit(map[string]any{"status": "imported", "swarms": len(snap.Swarms), "merge": importMerge}, func() {
			fmt.Printf("imported %d swarm(s) from %s\n", len(snap.Swarms), args[0])
		})
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Hard-delete old soft-deleted and archived messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		ctx := context.Background()

		deleted, err := e.store.Inbox().PurgeDeleted(ctx, purgeDeletedHours)
		if err != nil {
			return err
		}
		var archived int
		if purgeArchived || purgeArchivedHours > 0 {
			if archived, err = e.store.Inbox().PurgeArchived(ctx, purgeArchivedHours); err != nil {
				return err
			}
		}
		var sessions int
		if purgeSessions {
			if sessions, err = e.store.Sessions().PurgeExpired(ctx, 0); err != nil {
				return err
			}
		}
		emit(map[string]int{"deleted": deleted, "archived": archived, "sessions": sessions}, func() {
			fmt.Printf("purged %d deleted, %d archived message(s), %d session(s)\n", deleted, archived, sessions)
		})
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importMerge, "merge", false, "merge instead of replacing")
	purgeCmd.Flags().IntVar(&purgeDeletedHours, "deleted-hours", 7*24, "purge deleted rows older than this many hours")
	purgeCmd.Flags().BoolVar(&purgeArchived, "archived", false, "also purge archived rows")
	purgeCmd.Flags().IntVar(&purgeArchivedHours, "archived-hours", 0, "restrict --archived to rows older than this many hours")
	purgeCmd.Flags().BoolVar(&purgeSessions, "sessions", false, "also purge all peer sessions")
	rootCmd.AddCommand(exportCmd, importCmd, purgeCmd)
}
