package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const userAgent = "chatprobe"

type client struct {
	base   string
	screen string
	http   *http.Client
}

func newClient() *client {
	return &client{
		base:   strings.TrimRight(addr, "/"),
		screen: screen,
		http:   &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.open(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// open sends a request and returns the response when the status is 2xx.
func (c *client) open(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Screen-Size", c.screen)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return nil, &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	return resp, nil
}

// session is the subset of the session state chatprobe prints.
type session struct {
	SessionID string `json:"sessionId"`
	PersonaID string `json:"personaId"`
	Emotion   string `json:"emotion"`
	Error     string `json:"error"`
	ShowAbout bool   `json:"showAbout"`
	Messages  []struct {
		ID        int64  `json:"id"`
		Content   string `json:"content"`
		IsAI      bool   `json:"isAI"`
		Reasoning string `json:"reasoning"`
	} `json:"messages"`
}

func (c *client) createSession(ctx context.Context, personaID string) (session, error) {
	var s session
	err := c.do(ctx, http.MethodPost, "/api/session", map[string]string{"personaId": personaID}, &s)
	return s, err
}

// readSSE calls fn for every complete event in r.
func readSSE(r io.Reader, fn func(event, data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)

	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
