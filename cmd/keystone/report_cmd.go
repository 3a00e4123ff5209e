package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
)

func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var serviceURL string
	var apiKey string
	var role string
	var from string
	var to string
	var outPath string
	fs.StringVar(&serviceURL, "service", "http://localhost:8080", "keystone service URL")
	fs.StringVar(&apiKey, "api-key", os.Getenv("KEYSTONE_ADMIN_API_KEY"), "admin API key")
	fs.StringVar(&role, "role", "compliance_officer", "caller role for policy evaluation")
	fs.StringVar(&from, "from", "", "period start (RFC3339, default 3 months ago)")
	fs.StringVar(&to, "to", "", "period end (RFC3339, default now)")
	fs.StringVar(&outPath, "out", "", "output JSON path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	query := url.Values{}
	if from != "" {
		query.Set("from", from)
	}
	if to != "" {
		query.Set("to", to)
	}
	path := "/v1/compliance/report"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	client := newAPIClient(serviceURL, apiKey, role)
	body, status, err := client.do(context.Background(), http.MethodGet, path, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "report:", err)
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintln(os.Stderr, "report:", apiError(status, body))
		return 1
	}
	if err := writeOutput(outPath, indentJSON(body)); err != nil {
		fmt.Fprintln(os.Stderr, "report:", err)
		return 1
	}
	return 0
}
