package main

import (
	"context"
	"fmt"
	"time"

	beacon "github.com/beacon-social/beacon-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// inbox
	inboxUnread bool
	inboxJSON   bool

	// messages
	messagesLimit int
	messagesJSON  bool

	// send
	sendJSON bool

	// notifications
	notificationsJSON bool
)

// ============================================================================
// inbox
// ============================================================================

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Conversations.List(ctx, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return resultError(result)
		}

		if inboxJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var page beacon.ConversationPage
		if err := result.Decode(&page); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		shown := 0
		for _, convo := range page.Conversations {
			if inboxUnread && convo.UnreadCount == 0 {
				continue
			}
			shown++
			marker := " "
			if convo.UnreadCount > 0 {
				marker = "*"
			}
			preview := ""
			if convo.LastMessage != nil {
				preview = convo.LastMessage.Content
				if len(preview) > 60 {
					preview = preview[:57] + "..."
				}
			}
			fmt.Printf("%s %-24s [%s] unread:%-3d %s\n",
				marker, convo.ID, convo.Kind, convo.UnreadCount, preview)
		}
		if shown == 0 {
			fmt.Println("No conversations found.")
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show message history for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *beacon.PageOptions
		if messagesLimit > 0 {
			opts = &beacon.PageOptions{Limit: messagesLimit}
		}

		result, err := client.Messages.History(ctx, conversationID, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return resultError(result)
		}

		if messagesJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var page beacon.MessagePage
		if err := result.Decode(&page); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(page.Messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range page.Messages {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.SenderID, msg.Content)
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <content>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, content := args[0], args[1]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Messages.Send(ctx, conversationID, content, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return resultError(result)
		}

		if sendJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var data beacon.SendData
		if err := result.Decode(&data); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		fmt.Printf("Message sent to conversation %s\n", data.ConversationID)
		if data.Message != nil {
			fmt.Printf("  Message ID: %s\n", data.Message.ID)
			fmt.Printf("  Content:    %s\n", data.Message.Content)
		}
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <conversation-id> [last-message-id]",
	Short: "Mark a conversation as read",
	Long:  "Mark a conversation as read up to a message. Without an explicit message id, the newest message in the history is acknowledged.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		lastMessageID := ""
		if len(args) == 2 {
			lastMessageID = args[1]
		} else {
			result, err := client.Messages.History(ctx, conversationID, &beacon.PageOptions{Limit: 1})
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if !result.OK {
				return resultError(result)
			}
			var page beacon.MessagePage
			if err := result.Decode(&page); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			if len(page.Messages) == 0 {
				fmt.Println("Conversation has no messages.")
				return nil
			}
			lastMessageID = page.Messages[len(page.Messages)-1].ID
		}

		result, err := client.Conversations.MarkRead(ctx, conversationID, lastMessageID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return resultError(result)
		}

		fmt.Printf("Marked %s read up to message %s\n", conversationID, lastMessageID)
		return nil
	},
}

// ============================================================================
// notifications
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Notifications.List(ctx, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return resultError(result)
		}

		if notificationsJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var page beacon.NotificationPage
		if err := result.Decode(&page); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(page.Notifications) == 0 {
			fmt.Println("No notifications found.")
			return nil
		}

		for _, n := range page.Notifications {
			marker := " "
			if !n.IsRead {
				marker = "*"
			}
			fmt.Printf("%s [%s] %-12s %s\n", marker, n.CreatedAt, n.Type, n.Content)
		}
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark all notifications as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Notifications.MarkAllRead(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return resultError(result)
		}

		fmt.Println("All notifications marked as read.")
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	inboxCmd.Flags().BoolVar(&inboxUnread, "unread", false, "Show only unread conversations")
	inboxCmd.Flags().BoolVar(&inboxJSON, "json", false, "Output raw JSON")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "Maximum number of messages to return")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	notificationsCmd.Flags().BoolVar(&notificationsJSON, "json", false, "Output raw JSON")
	notificationsCmd.AddCommand(notificationsReadAllCmd)

	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(notificationsCmd)
}
