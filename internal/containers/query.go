package containers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// queryTimeout bounds one full worker query, stream included.
const queryTimeout = 300 * time.Second

type queryRequest struct {
	Message string           `json:"message"`
	History []HistoryMessage `json:"history,omitempty"`
}

// executeQuery posts to the worker's /query endpoint and streams the raw
// SSE body line by line. Blank lines are dropped.
func executeQuery(ctx context.Context, client *http.Client, baseURL, message string, history []HistoryMessage) (<-chan string, error) {
	payload, err := json.Marshal(queryRequest{Message: message, History: history})
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	req, err := http.NewRequestWithContext(qctx, http.MethodPost, baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("worker query returned status %d", resp.StatusCode)
	}

	lines := make(chan string, 32)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(lines)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-qctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

// waitHealthy polls the worker's health endpoint until it answers 200 or
// the deadline passes.
func waitHealthy(ctx context.Context, client *http.Client, baseURL string, deadline, interval time.Duration) bool {
	hctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if checkHealth(hctx, client, baseURL) {
			return true
		}
		select {
		case <-ticker.C:
		case <-hctx.Done():
			return false
		}
	}
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
