package main

import (
	"context"
	"fmt"
	"time"

	beacon "github.com/beacon-social/beacon-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store a session token in ~/.beacon/config.toml",
	Long:  "Log in by storing a session token. The user identity is derived from the token's claims and verified against the API.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		identity, err := beacon.TokenIdentity(token)
		if err != nil {
			return fmt.Errorf("invalid token: %w", err)
		}
		if !identity.Authenticated {
			return fmt.Errorf("token for user %s is expired", identity.UserID)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		cfg.Auth.UserID = identity.UserID
		if cfg.Default.Environment == "" {
			cfg.Default.Environment = "production"
		}

		// Confirm the token against the API and pick up the username.
		client := clientFromConfig(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Account.Me(ctx)
		if err != nil {
			fmt.Printf("Warning: could not verify token against API: %v\n", err)
		} else if !result.OK {
			if result.Error != nil {
				return fmt.Errorf("token rejected: %s: %s", result.Error.Code, result.Error.Message)
			}
			return fmt.Errorf("token rejected by API")
		} else {
			var me beacon.MeData
			if err := result.Decode(&me); err == nil {
				cfg.Auth.Username = me.User.Username
			}
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Logged in as %s (user %s)\n", valueOrDefault(cfg.Auth.Username, "(unknown)"), cfg.Auth.UserID)
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Auth.Token == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}
