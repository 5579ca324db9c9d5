package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmgate/pkg/wire"
)

var (
	sendType       string
	sendPriority   string
	messagesStatus string
	messagesLimit  int
	messagesSwarm  string
	sentLimit      int
	sentSwarm      string
)

var sendCmd = &cobra.Command{
	Use:   "send <swarm-id> <recipient|broadcast> <content>",
	Short: "Sign and send a message to a member or the whole swarm",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		reports, err := e.service.Send(context.Background(), args[0], args[1], sendType, sendPriority, args[2])
		if err != nil {
			return err
		}
		emit(reports, func() {
			for _, r := range reports {
				outcome := "delivered"
				if !r.Delivered {
					outcome = "failed: " + r.Error
				}
				fmt.Printf("%s -> %s  %s\n", r.MessageID, r.Recipient, outcome)
			}
		})
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List inbox messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		ctx := context.Background()

		list, err := e.store.Inbox().ListByStatus(ctx, messagesSwarm, messagesStatus, messagesLimit, 0)
		if err != nil {
			return err
		}
		emit(list, func() {
			for _, m := range list {
				fmt.Printf("%s  %s  %-20s  %-8s  %s\n",
					m.ReceivedAt.Format("2006-01-02 15:04"), m.MessageID, m.SenderID, m.Status, preview(m.Content))
			}
		})
		return nil
	},
}

var sentCmd = &cobra.Command{
	Use:   "sent",
	Short: "List sent messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		messages, err := e.store.Outbox().List(context.Background(), sentSwarm, sentLimit, 0)
		if err != nil {
			return err
		}
		emit(messages, func() {
			for _, m := range messages {
				fmt.Printf("%s  %s  -> %-20s  %-9s  %s\n",
					m.SentAt.Format("2006-01-02 15:04"), m.MessageID, m.RecipientID, m.Status, preview(m.Content))
			}
		})
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", wire.TypeMessage, "message type")
	sendCmd.Flags().StringVar(&sendPriority, "priority", wire.PriorityNormal, "message priority")
	messagesCmd.Flags().StringVar(&messagesStatus, "status", "unread", "status filter (unread|read|archived|deleted|all)")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 50, "maximum messages")
	messagesCmd.Flags().StringVar(&messagesSwarm, "swarm", "", "filter by swarm id")
	sentCmd.Flags().IntVar(&sentLimit, "limit", 50, "maximum messages")
	sentCmd.Flags().StringVar(&sentSwarm, "swarm", "", "filter by swarm id")
	rootCmd.AddCommand(sendCmd, messagesCmd, sentCmd)
}

func preview(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
