package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/send"
	"courier/internal/types"
)

// testLogger implements types.Logger and discards everything.
type testLogger struct{}

func (testLogger) Info(string, ...any)        {}
func (testLogger) Error(string, ...any)       {}
func (testLogger) Warn(string, ...any)        {}
func (l testLogger) With(...any) types.Logger { return l }

// scriptedServer returns each scripted response in order, then repeats the
// last one. It records request paths.
type scriptedServer struct {
	mu        sync.Mutex
	responses []scriptedResponse
	idx       int
	paths     []string
	server    *httptest.Server
}

type scriptedResponse struct {
	status     int
	body       string
	retryAfter string
}

func newScriptedServer(t *testing.T, responses ...scriptedResponse) *scriptedServer {
	t.Helper()
	s := &scriptedServer{responses: responses}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		resp := s.responses[s.idx]
		if s.idx < len(s.responses)-1 {
			s.idx++
		}
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()

		if resp.retryAfter != "" {
			w.Header().Set("Retry-After", resp.retryAfter)
		}
		w.WriteHeader(resp.status)
		w.Write([]byte(resp.body))
	}))
	t.Cleanup(s.server.Close)
	return s
}

func newTestSender() (*MessageSender, *[]time.Duration) {
	sleeps := &[]time.Duration{}
	client := NewClient(&http.Client{Timeout: 5 * time.Second}, "test", "Courier-Test/1.0")
	sender := NewMessageSender(client, testLogger{}, WithSleepFunc(func(d time.Duration) {
		*sleeps = append(*sleeps, d)
	}))
	return sender, sleeps
}

func testParams(serverURL string) types.SendParams {
	return types.SendParams{
		ConversationID: "conv-1",
		ServiceURL:     serverURL,
		Content:        types.MessageContent{Title: "hello", Body: "world"},
	}
}

func TestSend_SuccessOnFirstAttempt(t *testing.T) {
	srv := newScriptedServer(t, scriptedResponse{status: 201})
	sender, sleeps := newTestSender()

	result, err := sender.Send(context.Background(), testParams(srv.server.URL), 3)

	require.NoError(t, err)
	assert.Equal(t, send.OutcomeSucceeded, result.Outcome.Kind)
	assert.Equal(t, 201, result.Outcome.StatusCode)
	assert.Zero(t, result.ThrottleCount)
	assert.Empty(t, *sleeps)
	assert.Equal(t, "/v3/conversations/conv-1/activities", srv.paths[0])
}

func TestSend_RateLimitedThenSuccess(t *testing.T) {
	srv := newScriptedServer(t,
		scriptedResponse{status: 429, retryAfter: "1"},
		scriptedResponse{status: 429, retryAfter: "2"},
		scriptedResponse{status: 200},
	)
	sender, sleeps := newTestSender()

	result, err := sender.Send(context.Background(), testParams(srv.server.URL), 3)

	require.NoError(t, err)
	assert.Equal(t, send.OutcomeSucceeded, result.Outcome.Kind)
	assert.Equal(t, 2, result.ThrottleCount)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestSend_AllAttemptsRateLimitedClassifiesThrottled(t *testing.T) {
	srv := newScriptedServer(t, scriptedResponse{status: 429})
	sender, sleeps := newTestSender()

	result, err := sender.Send(context.Background(), testParams(srv.server.URL), 3)

	require.NoError(t, err)
	assert.Equal(t, send.OutcomeThrottled, result.Outcome.Kind)
	assert.Equal(t, 429, result.Outcome.StatusCode)
	assert.Equal(t, 3, result.ThrottleCount)
	// No pause after the final attempt.
	assert.Len(t, *sleeps, 2)
}

func TestSend_NonRateLimitFailureClassifiesFailedImmediately(t *testing.T) {
	srv := newScriptedServer(t, scriptedResponse{status: 403, body: "forbidden"})
	sender, _ := newTestSender()

	result, err := sender.Send(context.Background(), testParams(srv.server.URL), 3)

	require.NoError(t, err)
	assert.Equal(t, send.OutcomeFailed, result.Outcome.Kind)
	assert.Equal(t, 403, result.Outcome.StatusCode)
	assert.Equal(t, "forbidden", result.Outcome.ErrorMessage)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Len(t, srv.paths, 1, "non-429 failures must not be retried")
}

func TestSend_MissingRetryAfterUsesFallback(t *testing.T) {
	srv := newScriptedServer(t,
		scriptedResponse{status: 429},
		scriptedResponse{status: 200},
	)
	sender, sleeps := newTestSender()

	_, err := sender.Send(context.Background(), testParams(srv.server.URL), 2)

	require.NoError(t, err)
	require.Len(t, *sleeps, 1)
	assert.Equal(t, defaultRetryAfterFallback, (*sleeps)[0])
}

func TestSend_TransportErrorReturnsError(t *testing.T) {
	srv := newScriptedServer(t, scriptedResponse{status: 200})
	srv.server.Close()
	sender, _ := newTestSender()

	_, err := sender.Send(context.Background(), testParams(srv.server.URL), 3)

	assert.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamUnavailable))
}

func TestSend_InvalidServiceURLReturnsError(t *testing.T) {
	sender, _ := newTestSender()

	_, err := sender.Send(context.Background(), types.SendParams{
		ConversationID: "conv-1",
		ServiceURL:     "not a url",
	}, 3)

	assert.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeRecipientUnreachable))
}
