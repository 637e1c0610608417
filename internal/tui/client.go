package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the dutyhub API on behalf of one user.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// UserID returns the identity the client acts as.
func (c *Client) UserID() string {
	return c.userID
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
	Now     string          `json:"now"`
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

func (c *Client) do(method, path string, body any, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return "", fmt.Errorf("decode payload: %w", err)
		}
	}
	return env.Message, nil
}

// Healthy reports whether the daemon answers /health.
func (c *Client) Healthy() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ActiveDuties returns the active set and the daemon's MAX_DUTY.
func (c *Client) ActiveDuties() ([]DutyItem, int, error) {
	var items []DutyItem
	msg, err := c.do(http.MethodGet, "/duties/active", nil, &items)
	if err != nil {
		return nil, 0, err
	}
	return items, parseMaxDuty(msg), nil
}

// parseMaxDuty reads the capacity out of "... MAX_DUTY: n". It returns 0 when
// the message carries none.
func parseMaxDuty(msg string) int {
	i := strings.LastIndex(msg, "MAX_DUTY:")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(msg[i+len("MAX_DUTY:"):]))
	if err != nil {
		return 0
	}
	return n
}

// Page returns "onduty" or "getstarted" for the client's user.
func (c *Client) Page() (string, error) {
	var out struct {
		View string `json:"view"`
	}
	_, err := c.do(http.MethodGet, "/duties/page", nil, &out)
	return out.View, err
}

// StartDuty starts a duty, optionally owed to the user matched by key. key is
// treated as an email when it contains '@', otherwise as a matric number.
func (c *Client) StartDuty(debteeKey string) (*DutyItem, error) {
	body := map[string]any{}
	if debteeKey != "" {
		lookup := map[string]string{"matric": debteeKey}
		if strings.Contains(debteeKey, "@") {
			lookup = map[string]string{"email": debteeKey}
		}
		body["debtee"] = lookup
	}
	var d DutyItem
	if _, err := c.do(http.MethodPost, "/duties", body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// FinishDuty force-finishes one of the user's duties.
func (c *Client) FinishDuty(id string) error {
	_, err := c.do(http.MethodPost, "/duties/"+id+"/finish", nil, nil)
	return err
}

// RemoveMine removes the user's duties from the active set.
func (c *Client) RemoveMine() (int, error) {
	var removed []DutyItem
	_, err := c.do(http.MethodDelete, "/duties/mine", nil, &removed)
	return len(removed), err
}

// Reset clears the active set.
func (c *Client) Reset() error {
	_, err := c.do(http.MethodPost, "/admin/reset", nil, nil)
	return err
}

// ListUsers returns every user.
func (c *Client) ListUsers() ([]UserItem, error) {
	var users []UserItem
	_, err := c.do(http.MethodGet, "/users", nil, &users)
	return users, err
}
