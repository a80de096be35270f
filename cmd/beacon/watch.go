package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	beacon "github.com/beacon-social/beacon-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live events over the real-time socket",
	Long:  "Connect the real-time socket for the logged-in user and print push events as they arrive. Press Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		if cfg.Auth.UserID == "" {
			return fmt.Errorf("no user id in config, run 'beacon login <token>' again")
		}

		store := beacon.NewStore()
		engine := beacon.NewSyncEngine(client, store, cfg.Auth.UserID)
		engine.OnRefreshError = func(err error) {
			fmt.Printf("! refresh failed: %v\n", err)
		}

		sock := client.Realtime.Socket(cfg.Auth.UserID, nil)
		sock.OnConnected(func() {
			fmt.Println("connected")
		})
		sock.OnDisconnected(func(reason string) {
			fmt.Printf("disconnected: %s\n", reason)
		})
		sock.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("reconnecting (attempt %d, in %s)\n", attempt, delay)
		})
		sock.OnEvent(func(ev beacon.PushEvent) {
			engine.Apply(context.Background(), ev)
			switch ev.Kind {
			case beacon.EventNewMessage:
				fmt.Printf("[message] %s in %s: %s\n",
					ev.Message.SenderID, ev.Message.ConversationID, ev.Message.Content)
			case beacon.EventNewConversation:
				fmt.Println("[conversation] new conversation, refreshing list")
			case beacon.EventNewNotification:
				fmt.Printf("[notification] %s: %s\n", ev.Notification.Type, ev.Notification.Content)
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := engine.Bootstrap(ctx); err != nil {
			cancel()
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		cancel()

		convos, _ := store.Conversations()
		fmt.Printf("Watching %d conversations as %s...\n", len(convos), cfg.Auth.UserID)

		if err := sock.Connect(context.Background()); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer sock.Disconnect()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nStopping.")
		return nil
	},
}
