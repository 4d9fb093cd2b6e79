// Command healthcheck checks the service's /healthz endpoint for container health checks.
// The target defaults to http://localhost:3000/healthz and can be overridden with HEALTHCHECK_URL.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:3000/healthz"

func check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	url := os.Getenv("HEALTHCHECK_URL")
	if url == "" {
		url = defaultURL
	}
	client := &http.Client{Timeout: 3 * time.Second}
	if err := check(context.Background(), client, url); err != nil {
		log.Printf("healthcheck failed: %v", err)
		os.Exit(1)
	}
}
