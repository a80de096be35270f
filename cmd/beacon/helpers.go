package main

import (
	"fmt"
	"os"

	beacon "github.com/beacon-social/beacon-go"
)

// clientFromConfig creates a Beacon client from the stored configuration.
func clientFromConfig(cfg *Config) *beacon.Client {
	var opts []beacon.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, beacon.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, beacon.WithEnvironment(beacon.Environment(cfg.Default.Environment)))
	}
	return beacon.NewClient(cfg.Auth.Token, opts...)
}

// getClient creates a Beacon client authenticated with the stored token.
func getClient() (*beacon.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'beacon login <token>' first.")
		os.Exit(1)
	}
	return clientFromConfig(cfg), cfg
}

// resultError formats an API-level failure for command output.
func resultError(result *beacon.Result) error {
	if result.Error != nil {
		return fmt.Errorf("API error: %s: %s", result.Error.Code, result.Error.Message)
	}
	return fmt.Errorf("API returned an error (no details)")
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
