package main

import (
	"fmt"
	"os"

	"github.com/zapdesk/chatsync-server/internal/util"
)

// Generates a tenant API token and the sha256 hash to store in
// tenants.token_hash. The plain token is shown once; only the hash persists.
func main() {
	token, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("token:      %s\n", token)
	fmt.Printf("token_hash: %s\n", util.HashToken(token))
}
