// Package client is the Go consumer of the assistant's answer stream. It
// mirrors the site widget: optimistic transcript updates, incremental decoding
// of the `data: ` framing, explicit cancellation, and bounded retry on
// transport failures.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// State is the consumer's exchange lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateReceiving State = "receiving"
	StateError     State = "error"
)

const (
	streamDone   = "[DONE]"
	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// Message is one transcript entry. Snapshots are immutable; the in-progress
// assistant turn is rebuilt from an accumulator on each delta and swapped in
// as a fresh snapshot.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExchangeError is a failure reported by the server, either as a non-200
// response or as an in-band error event. It is never auto-retried.
type ExchangeError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("assistant error (%s): %s", e.Code, e.Message)
}

// Handlers receive exchange progress. All callbacks are optional and are
// invoked from the goroutine running Ask.
type Handlers struct {
	OnDelta     func(delta string, snapshot Message)
	OnFollowUps func(questions []string, conversationID string)
	OnError     func(err error)
}

// Client drives one exchange at a time against an assistant backend. Starting
// a new question cancels any in-flight one first.
type Client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client

	mu             sync.Mutex
	generation     int
	cancel         context.CancelFunc
	conversationID string
	transcript     []Message
	followUps      []string
	state          State
	lastErr        error
}

// New creates a client for the given backend. sessionID is an opaque token
// the caller keeps stable for the lifetime of the client instance.
func New(baseURL, sessionID string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		sessionID: sessionID,
		// No overall timeout: the answer stream stays open as long as the
		// model is producing.
		httpClient: &http.Client{},
		state:      StateIdle,
	}
}

type askPayload struct {
	Question       string  `json:"question"`
	ConversationID *string `json:"conversationId"`
	SessionID      string  `json:"sessionId"`
}

type streamEvent struct {
	Type           string   `json:"type"`
	Content        string   `json:"content"`
	Questions      []string `json:"questions"`
	ConversationID *string  `json:"conversationId"`
	Code           string   `json:"code"`
	Message        string   `json:"message"`
}

// Ask sends a question and consumes the answer stream until the terminal
// sentinel, an error event, or cancellation. Cancelling ctx (or calling
// Cancel, or starting another Ask) aborts the transport silently and returns
// nil.
func (c *Client) Ask(ctx context.Context, question string, h Handlers) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.generation++
	gen := c.generation

	c.state = StateSending
	c.lastErr = nil
	c.followUps = nil
	c.transcript = append(c.transcript, Message{Role: "user", Content: question})
	placeholder := len(c.transcript)
	c.transcript = append(c.transcript, Message{Role: "assistant"})
	convID := c.conversationID
	c.mu.Unlock()
	defer cancel()

	resp, err := c.open(ctx, question, convID)
	if err != nil {
		if ctx.Err() != nil {
			c.finishCancelled(gen)
			return nil
		}
		c.fail(gen, placeholder, err, h)
		return err
	}
	defer resp.Body.Close()

	c.setState(gen, StateReceiving)

	var accumulator strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		if payload == streamDone {
			c.finish(gen)
			return nil
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content":
			accumulator.WriteString(ev.Content)
			snapshot := Message{Role: "assistant", Content: accumulator.String()}
			c.swapSnapshot(gen, placeholder, snapshot)
			if h.OnDelta != nil {
				h.OnDelta(ev.Content, snapshot)
			}

		case "followups":
			c.mu.Lock()
			if ev.ConversationID != nil && *ev.ConversationID != "" {
				c.conversationID = *ev.ConversationID
			}
			c.followUps = ev.Questions
			id := c.conversationID
			c.mu.Unlock()
			if h.OnFollowUps != nil {
				h.OnFollowUps(ev.Questions, id)
			}

		case "error":
			exchErr := &ExchangeError{Code: ev.Code, Message: ev.Message}
			c.fail(gen, placeholder, exchErr, h)
			return exchErr
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			c.finishCancelled(gen)
			return nil
		}
		readErr := fmt.Errorf("read answer stream: %w", err)
		c.fail(gen, placeholder, readErr, h)
		return readErr
	}

	// Stream end without the sentinel still returns to idle.
	c.finish(gen)
	return nil
}

// Cancel aborts the in-flight exchange, if any. Safe to call at any time.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// open issues the request, retrying transport failures up to maxRetries times
// with linear backoff. Server-reported errors are returned as ExchangeError
// and never retried.
func (c *Client) open(ctx context.Context, question, conversationID string) (*http.Response, error) {
	payload := askPayload{Question: question, SessionID: c.sessionID}
	if conversationID != "" {
		payload.ConversationID = &conversationID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ask", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			exchErr := decodeAPIError(resp)
			resp.Body.Close()
			return nil, exchErr
		}

		return resp, nil
	}

	return nil, fmt.Errorf("connect after %d attempts: %w", maxRetries+1, lastErr)
}

func decodeAPIError(resp *http.Response) *ExchangeError {
	exchErr := &ExchangeError{StatusCode: resp.StatusCode, Code: "UNKNOWN"}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error.Code != "" {
		exchErr.Code = body.Error.Code
		exchErr.Message = body.Error.Message
	}
	return exchErr
}

// Transcript returns a copy of the current transcript snapshots.
func (c *Client) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// FollowUps returns the suggestions from the last completed exchange.
func (c *Client) FollowUps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.followUps))
	copy(out, c.followUps)
	return out
}

// ConversationID returns the server-assigned conversation id, once known.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure from the last exchange, if it ended in StateError.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Mutators below check the generation so a superseded exchange can no longer
// touch shared state.

func (c *Client) swapSnapshot(gen, idx int, snapshot Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || idx >= len(c.transcript) {
		return
	}
	c.transcript[idx] = snapshot
}

func (c *Client) setState(gen int, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.state = s
}

func (c *Client) finish(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.state = StateIdle
}

func (c *Client) finishCancelled(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.state = StateIdle
	c.lastErr = nil
}

func (c *Client) fail(gen, placeholder int, err error, h Handlers) {
	c.mu.Lock()
	if c.generation == gen {
		// Drop the optimistic assistant placeholder rather than leaving a
		// half-filled bubble.
		if placeholder < len(c.transcript) && c.transcript[placeholder].Role == "assistant" {
			c.transcript = append(c.transcript[:placeholder], c.transcript[placeholder+1:]...)
		}
		c.state = StateError
		c.lastErr = err
	}
	c.mu.Unlock()

	if h.OnError != nil {
		h.OnError(err)
	}
}
