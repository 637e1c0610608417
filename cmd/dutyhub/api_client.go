package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiResponse mirrors the daemon's response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
	Now     string          `json:"now"`
}

// apiDo sends a request as the --user identity and unwraps the envelope.
func apiDo(method, path string, data any) (*apiResponse, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, out.Message)
	}
	return &out, nil
}

// apiGet performs a GET request and decodes the payload into v.
func apiGet(path string, v any) (string, error) {
	resp, err := apiDo(http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	return resp.Message, decodePayload(resp, v)
}

// apiPost performs a POST request and decodes the payload into v.
func apiPost(path string, data, v any) (string, error) {
	resp, err := apiDo(http.MethodPost, path, data)
	if err != nil {
		return "", err
	}
	return resp.Message, decodePayload(resp, v)
}

// apiDelete performs a DELETE request and decodes the payload into v.
func apiDelete(path string, v any) (string, error) {
	resp, err := apiDo(http.MethodDelete, path, nil)
	if err != nil {
		return "", err
	}
	return resp.Message, decodePayload(resp, v)
}

func decodePayload(resp *apiResponse, v any) error {
	if v == nil || len(resp.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Payload, v)
}

// CheckHealth checks if the daemon is healthy and returns the health response.
// Unlike other API calls, this returns the parsed HealthResponse even on non-200
// responses, allowing callers to inspect the health payload alongside the error.
func CheckHealth() (*HealthResponse, error) {
	url := apiAddr + "/health"
	resp, err := apiClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	// Return both payload and error on non-200 status
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, string(body))
	}

	return &health, nil
}

// HealthResponse matches the server's health response structure.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}
