// registry-mcp exposes the registry over the Model Context Protocol on
// stdio, for LLM orchestrators that consume agents.
package main

import (
	"fmt"
	"os"

	"github.com/nexora-systems/registry-central/pkg/mcp"
)

func main() {
	apiURL := os.Getenv("REGISTRY_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:3000"
	}
	clientID := os.Getenv("REGISTRY_CLIENT_ID")
	if clientID == "" {
		clientID = "registry-mcp"
	}

	server := mcp.NewServer(apiURL, clientID)
	if err := server.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "registry-mcp: %v\n", err)
		os.Exit(1)
	}
}
