package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func runRevoke(args []string) int {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var serviceURL string
	var apiKey string
	var tokenID string
	var userID string
	var expiresIn time.Duration
	var reason string
	var outPath string
	fs.StringVar(&serviceURL, "service", "http://localhost:8080", "keystone service URL")
	fs.StringVar(&apiKey, "api-key", os.Getenv("KEYSTONE_ADMIN_API_KEY"), "admin API key")
	fs.StringVar(&tokenID, "token-id", "", "token id to revoke")
	fs.StringVar(&userID, "user-id", "", "revoke every outstanding token of this user")
	fs.DurationVar(&expiresIn, "expires-in", time.Hour, "natural token expiry from now")
	fs.StringVar(&reason, "reason", "ADMIN_ACTION", "revocation reason")
	fs.StringVar(&outPath, "out", "", "output JSON path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if (tokenID == "") == (userID == "") {
		fmt.Fprintln(os.Stderr, "revoke requires exactly one of --token-id or --user-id")
		return 1
	}

	client := newAPIClient(serviceURL, apiKey, "")
	ctx := context.Background()

	var body []byte
	var status int
	var err error
	if tokenID != "" {
		body, status, err = client.do(ctx, http.MethodPost, "/v1/tokens/revoke", map[string]string{
			"token_id":   tokenID,
			"expires_at": time.Now().Add(expiresIn).UTC().Format(time.RFC3339),
			"reason":     reason,
		})
	} else {
		body, status, err = client.do(ctx, http.MethodPost, "/v1/accounts/"+userID+"/revoke-all", nil)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "revoke:", err)
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintln(os.Stderr, "revoke:", apiError(status, body))
		return 1
	}
	if err := writeOutput(outPath, indentJSON(body)); err != nil {
		fmt.Fprintln(os.Stderr, "revoke:", err)
		return 1
	}
	return 0
}
