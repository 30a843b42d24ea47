// Package main is a minimal HTTP health check binary for distroless
// containers. It exits 0 when GET /health answers 200 and 1 otherwise.
// LINQYARD_PORT selects the port; the default is 8080.
package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	port := os.Getenv("LINQYARD_PORT")
	if port == "" {
		port = "8080"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
