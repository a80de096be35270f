package main

import (
	"context"
	"fmt"
	"time"

	beacon "github.com/beacon-social/beacon-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check whether the session token is expired, and fetch live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username:    %s\n", cfg.Auth.Username)
		}
		fmt.Printf("  User ID:     %s\n", valueOrDefault(cfg.Auth.UserID, "(not logged in)"))

		// Check token state from its own claims.
		tokenStatus := "none"
		if cfg.Auth.Token != "" {
			identity, err := beacon.TokenIdentity(cfg.Auth.Token)
			switch {
			case err != nil:
				tokenStatus = fmt.Sprintf("present (unparseable: %v)", err)
			case !identity.Authenticated:
				tokenStatus = "EXPIRED"
			default:
				tokenStatus = fmt.Sprintf("valid (user %s)", identity.UserID)
			}
		}
		fmt.Printf("  Token:       %s\n", tokenStatus)

		if cfg.Auth.Token == "" {
			return nil
		}

		// Live status via /api/me.
		fmt.Println()
		fmt.Println("Live status:")

		client := clientFromConfig(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Account.Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		if !result.OK {
			if result.Error != nil {
				fmt.Printf("  API error: %s: %s\n", result.Error.Code, result.Error.Message)
			} else {
				fmt.Println("  API returned an error (no details)")
			}
			return nil
		}

		var me beacon.MeData
		if err := result.Decode(&me); err != nil {
			fmt.Printf("  Error decoding response: %v\n", err)
			return nil
		}

		fmt.Printf("  Username:             %s\n", me.User.Username)
		fmt.Printf("  Display Name:         %s\n", me.User.DisplayName)
		fmt.Printf("  Conversations:        %d\n", me.ConversationCount)
		fmt.Printf("  Unread conversations: %d\n", me.UnreadConversations)
		fmt.Printf("  Unread notifications: %d\n", me.UnreadNotifications)
		return nil
	},
}
