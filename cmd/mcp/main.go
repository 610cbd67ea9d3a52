// StaySettle MCP Server - exposes booking, escrow and governance operations as MCP tools
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/staysettle/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("STAYSETTLE_API_URL", "http://localhost:8080"),
		APIToken: os.Getenv("STAYSETTLE_API_TOKEN"),
	}

	if cfg.APIToken == "" {
		fmt.Fprintln(os.Stderr, "warning: STAYSETTLE_API_TOKEN is not set; mutating tools will fail against a protected server")
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
