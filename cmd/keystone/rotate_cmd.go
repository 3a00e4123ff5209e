package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
)

func runRotate(args []string) int {
	fs := flag.NewFlagSet("rotate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var serviceURL string
	var apiKey string
	var mode string
	var keyID string
	var reason string
	var outPath string
	fs.StringVar(&serviceURL, "service", "http://localhost:8080", "keystone service URL")
	fs.StringVar(&apiKey, "api-key", os.Getenv("KEYSTONE_ADMIN_API_KEY"), "admin API key")
	fs.StringVar(&mode, "mode", "GRACEFUL", "rotation mode (GRACEFUL or EMERGENCY)")
	fs.StringVar(&keyID, "key-id", "", "compromised key id (EMERGENCY only)")
	fs.StringVar(&reason, "reason", "", "rotation reason")
	fs.StringVar(&outPath, "out", "", "output JSON path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if mode == "EMERGENCY" && keyID == "" {
		fmt.Fprintln(os.Stderr, "rotate --mode EMERGENCY requires --key-id")
		return 1
	}

	client := newAPIClient(serviceURL, apiKey, "")
	body, status, err := client.do(context.Background(), http.MethodPost, "/v1/rotations", map[string]string{
		"mode":   mode,
		"key_id": keyID,
		"reason": reason,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "rotate:", err)
		return 1
	}
	if status != http.StatusAccepted {
		fmt.Fprintln(os.Stderr, "rotate:", apiError(status, body))
		return 1
	}
	if err := writeOutput(outPath, indentJSON(body)); err != nil {
		fmt.Fprintln(os.Stderr, "rotate:", err)
		return 1
	}
	return 0
}
