// Package vtclient is the vt CLI's HTTP client for the vtd daemon's
// §4.8 API surface, grounded on internal/transport/client.go's
// get/post/delete + checkStatus shape.
package vtclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
}

type Session struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Cmdline      []string `json:"cmdline"`
	CWD          string   `json:"cwd"`
	PID          *int     `json:"pid"`
	Status       string   `json:"status"`
	ExitCode     *int     `json:"exitCode"`
	StartedAt    string   `json:"startedAt"`
	LastModified string   `json:"lastModified"`
	Cols         int      `json:"cols"`
	Rows         int      `json:"rows"`
	Waiting      bool     `json:"waiting"`
	Source       string   `json:"source,omitempty"`
	RemoteID     string   `json:"remoteId,omitempty"`
}

type Activity struct {
	IsActive     bool   `json:"isActive"`
	IsWaiting    bool   `json:"isWaiting"`
	IdleSeconds  int    `json:"idleSeconds"`
	LastActivity string `json:"lastActivity,omitempty"`
}

type Remote struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type CreateSessionRequest struct {
	Command       []string `json:"command"`
	WorkingDir    string   `json:"workingDir,omitempty"`
	Name          string   `json:"name,omitempty"`
	RemoteID      string   `json:"remoteId,omitempty"`
	SpawnTerminal bool     `json:"spawn_terminal,omitempty"`
}

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	resp, err := c.get(ctx, "/api/sessions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var sessions []Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, "/api/sessions", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return "", err
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return created.SessionID, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	resp, err := c.get(ctx, "/api/sessions/"+id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (c *Client) KillSession(ctx context.Context, id, signal string) error {
	path := "/api/sessions/" + id
	if signal != "" {
		path += "?signal=" + signal
	}
	resp, err := c.delete(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) CleanupSession(ctx context.Context, id string) error {
	resp, err := c.delete(ctx, "/api/sessions/"+id+"/cleanup")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) CleanupExited(ctx context.Context) error {
	resp, err := c.post(ctx, "/api/cleanup-exited", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) SessionActivity(ctx context.Context, id string) (*Activity, error) {
	resp, err := c.get(ctx, "/api/sessions/"+id+"/activity")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var a Activity
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return &a, nil
}

func (c *Client) SessionText(ctx context.Context, id string, withStyles bool) (string, error) {
	path := "/api/sessions/" + id + "/text"
	if withStyles {
		path += "?styles=1"
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(resp.Body)
	return string(raw), err
}

func (c *Client) SendInputText(ctx context.Context, id, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	resp, err := c.post(ctx, "/api/sessions/"+id+"/input", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) SendInputKey(ctx context.Context, id, key string) error {
	body, _ := json.Marshal(map[string]string{"key": key})
	resp, err := c.post(ctx, "/api/sessions/"+id+"/input", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) ResizeSession(ctx context.Context, id string, cols, rows int) error {
	body, _ := json.Marshal(map[string]int{"cols": cols, "rows": rows})
	resp, err := c.post(ctx, "/api/sessions/"+id+"/resize", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) StreamURL(id string) string {
	return c.baseURL + "/api/sessions/" + id + "/stream"
}

func (c *Client) RegisterRemote(ctx context.Context, name, url string) (*Remote, string, error) {
	body, _ := json.Marshal(map[string]string{"name": name, "url": url})
	resp, err := c.post(ctx, "/api/remotes", body)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, "", err
	}
	var reply struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		URL   string `json:"url"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, "", fmt.Errorf("decode register response: %w", err)
	}
	return &Remote{ID: reply.ID, Name: reply.Name, URL: reply.URL}, reply.Token, nil
}

func (c *Client) ListRemotes(ctx context.Context) ([]Remote, error) {
	resp, err := c.get(ctx, "/api/remotes")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var remotes []Remote
	if err := json.NewDecoder(resp.Body).Decode(&remotes); err != nil {
		return nil, fmt.Errorf("decode remotes: %w", err)
	}
	return remotes, nil
}

func (c *Client) UnregisterRemote(ctx context.Context, id string) error {
	resp, err := c.delete(ctx, "/api/remotes/"+id)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

// HTTP helpers

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func (c *Client) delete(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func checkStatus(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}
