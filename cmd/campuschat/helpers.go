package main

import (
	"fmt"
	"os"
	"strings"

	campuschat "github.com/nextgen-campus/campuschat-go"
)

// getClient creates a chat client from the stored configuration.
func getClient() *campuschat.Client {
	cfg := mustConfig()
	return campuschat.NewClient(cfg.Default.BaseURL, cfg.Auth.Token)
}

// getRealtime creates a socket client from the stored configuration.
func getRealtime() *campuschat.Realtime {
	cfg := mustConfig()
	return campuschat.NewRealtime(campuschat.RealtimeConfig{
		URL:           socketURL(cfg),
		Token:         cfg.Auth.Token,
		AutoReconnect: true,
	})
}

func mustConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'campuschat init <token>' first.")
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No base URL. Run 'campuschat config set default.base_url <url>' first.")
		os.Exit(1)
	}
	return cfg
}

// socketURL returns the configured socket endpoint, defaulting to the REST
// base with a /socket path.
func socketURL(cfg *Config) string {
	if cfg.Default.SocketURL != "" {
		return cfg.Default.SocketURL
	}
	return strings.TrimRight(cfg.Default.BaseURL, "/") + "/socket"
}

// parseRoomArg parses a "chat:<id>" / "group:<id>" command argument.
func parseRoomArg(arg string) (campuschat.RoomKey, error) {
	room, err := campuschat.ParseRoomKey(arg)
	if err != nil {
		return campuschat.RoomKey{}, fmt.Errorf("invalid room %q (want chat:<id> or group:<id>)", arg)
	}
	return room, nil
}
