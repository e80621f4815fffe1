package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// scriptedServer streams the given `data: ` lines for every ask request and
// records the decoded request payloads.
func scriptedServer(t *testing.T, lines []string) (*httptest.Server, *[]askPayload) {
	t.Helper()
	var payloads []askPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p askPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("Failed to decode ask payload: %v", err)
		}
		payloads = append(payloads, p)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n", line)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &payloads
}

func TestAsk_StreamsAnswer(t *testing.T) {
	srv, _ := scriptedServer(t, []string{
		`{"type":"content","content":"We charge "}`,
		`{"type":"content","content":"per project."}`,
		`{"type":"followups","questions":["What is included?"],"conversationId":"conv-1"}`,
		streamDone,
	})

	c := New(srv.URL, "session-1")

	var deltas []string
	var snapshots []string
	err := c.Ask(context.Background(), "What's your pricing?", Handlers{
		OnDelta: func(delta string, snapshot Message) {
			deltas = append(deltas, delta)
			snapshots = append(snapshots, snapshot.Content)
		},
	})
	if err != nil {
		t.Fatalf("Expected successful exchange: %v", err)
	}

	if len(deltas) != 2 {
		t.Fatalf("Expected 2 deltas, got %d", len(deltas))
	}
	if snapshots[0] != "We charge " || snapshots[1] != "We charge per project." {
		t.Errorf("Snapshots must accumulate in order, got %v", snapshots)
	}

	transcript := c.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("Expected user + assistant messages, got %d", len(transcript))
	}
	if transcript[1].Content != "We charge per project." {
		t.Errorf("Final transcript should equal concatenated deltas, got %q", transcript[1].Content)
	}
	if got := c.FollowUps(); len(got) != 1 || got[0] != "What is included?" {
		t.Errorf("Unexpected follow-ups: %v", got)
	}
	if c.ConversationID() != "conv-1" {
		t.Errorf("Expected conversation id conv-1, got %q", c.ConversationID())
	}
	if c.State() != StateIdle {
		t.Errorf("Expected idle after [DONE], got %q", c.State())
	}
}

func TestAsk_ReusesConversationID(t *testing.T) {
	srv, payloads := scriptedServer(t, []string{
		`{"type":"content","content":"answer"}`,
		`{"type":"followups","questions":[],"conversationId":"conv-7"}`,
		streamDone,
	})

	c := New(srv.URL, "session-2")
	if err := c.Ask(context.Background(), "first", Handlers{}); err != nil {
		t.Fatalf("First ask failed: %v", err)
	}
	if err := c.Ask(context.Background(), "second", Handlers{}); err != nil {
		t.Fatalf("Second ask failed: %v", err)
	}

	got := *payloads
	if len(got) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(got))
	}
	if got[0].ConversationID != nil {
		t.Errorf("First ask must not carry a conversation id, got %v", *got[0].ConversationID)
	}
	if got[1].ConversationID == nil || *got[1].ConversationID != "conv-7" {
		t.Error("Second ask must reuse the server-assigned conversation id")
	}
	if got[1].SessionID != "session-2" {
		t.Errorf("Expected stable session id, got %q", got[1].SessionID)
	}
}

func TestAsk_ServerErrorIsNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":"UPSTREAM_THROTTLED","message":"Too many requests."}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "session-3")

	var reported error
	err := c.Ask(context.Background(), "hi", Handlers{
		OnError: func(err error) { reported = err },
	})
	if err == nil {
		t.Fatal("Expected an error")
	}

	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("Expected ExchangeError, got %T", err)
	}
	if exchErr.StatusCode != http.StatusTooManyRequests || exchErr.Code != "UPSTREAM_THROTTLED" {
		t.Errorf("Unexpected error fields: %+v", exchErr)
	}
	if reported == nil {
		t.Error("Expected OnError callback")
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("Server errors must not be retried, got %d requests", n)
	}

	// The optimistic assistant placeholder is dropped; the question stays.
	transcript := c.Transcript()
	if len(transcript) != 1 || transcript[0].Role != "user" {
		t.Errorf("Expected only the user message after failure, got %+v", transcript)
	}
	if c.State() != StateError {
		t.Errorf("Expected error state, got %q", c.State())
	}
	if c.Err() == nil {
		t.Error("Expected Err() to report the failure")
	}
}

// flakyTransport fails the first n round trips at the transport level, then
// delegates.
type flakyTransport struct {
	failures int32
	budget   int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&f.failures, 1) <= f.budget {
		return nil, errors.New("connection refused")
	}
	return f.next.RoundTrip(req)
}

func TestAsk_RetriesTransportFailures(t *testing.T) {
	srv, _ := scriptedServer(t, []string{
		`{"type":"content","content":"answer"}`,
		`{"type":"followups","questions":[],"conversationId":"conv-1"}`,
		streamDone,
	})

	c := New(srv.URL, "session-4")
	transport := &flakyTransport{budget: 2, next: http.DefaultTransport}
	c.httpClient.Transport = transport

	if err := c.Ask(context.Background(), "hi", Handlers{}); err != nil {
		t.Fatalf("Expected retry to recover: %v", err)
	}
	if n := atomic.LoadInt32(&transport.failures); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
	if c.State() != StateIdle {
		t.Errorf("Expected idle after recovery, got %q", c.State())
	}
}

func TestAsk_RetryBudgetExhausted(t *testing.T) {
	c := New("http://example.invalid", "session-5")
	transport := &flakyTransport{budget: 100}
	c.httpClient.Transport = transport

	err := c.Ask(context.Background(), "hi", Handlers{})
	if err == nil {
		t.Fatal("Expected an error once retries are exhausted")
	}
	if n := atomic.LoadInt32(&transport.failures); n != int32(maxRetries)+1 {
		t.Errorf("Expected %d attempts, got %d", maxRetries+1, n)
	}
	if c.State() != StateError {
		t.Errorf("Expected error state, got %q", c.State())
	}
}

func TestAsk_CancelMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"content\",\"content\":\"partial \"}\n")
		flusher.Flush()
		// Hold the stream open until the client walks away.
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, "session-6")

	err := c.Ask(context.Background(), "hi", Handlers{
		OnDelta: func(delta string, snapshot Message) {
			c.Cancel()
		},
	})
	if err != nil {
		t.Fatalf("Cancellation must not surface an error, got %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("Expected idle after cancellation, got %q", c.State())
	}
	if c.Err() != nil {
		t.Errorf("Expected no recorded error, got %v", c.Err())
	}

	// Partial content already shown stays in the transcript.
	transcript := c.Transcript()
	if len(transcript) != 2 || transcript[1].Content != "partial " {
		t.Errorf("Expected the partial assistant message to remain, got %+v", transcript)
	}
}

func TestAsk_ErrorEventMidStream(t *testing.T) {
	srv, _ := scriptedServer(t, []string{
		`{"type":"content","content":"partial "}`,
		`{"type":"error","code":"UPSTREAM_ERROR","message":"Failed to get an answer."}`,
	})

	c := New(srv.URL, "session-7")

	var reported error
	err := c.Ask(context.Background(), "hi", Handlers{
		OnError: func(err error) { reported = err },
	})
	if err == nil {
		t.Fatal("Expected an error from the in-band error event")
	}

	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("Expected ExchangeError, got %T", err)
	}
	if exchErr.Code != "UPSTREAM_ERROR" {
		t.Errorf("Unexpected code %q", exchErr.Code)
	}
	if reported == nil {
		t.Error("Expected OnError callback")
	}

	transcript := c.Transcript()
	if len(transcript) != 1 {
		t.Errorf("Expected the half-filled assistant message dropped, got %+v", transcript)
	}
}

func TestAsk_StreamEndWithoutSentinel(t *testing.T) {
	srv, _ := scriptedServer(t, []string{
		`{"type":"content","content":"answer"}`,
	})

	c := New(srv.URL, "session-8")
	if err := c.Ask(context.Background(), "hi", Handlers{}); err != nil {
		t.Fatalf("A clean close without the sentinel is not an error: %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("Expected idle, got %q", c.State())
	}
	if got := c.Transcript(); len(got) != 2 || got[1].Content != "answer" {
		t.Errorf("Expected the full answer kept, got %+v", got)
	}
}
