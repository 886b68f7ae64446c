// Package session owns the analysis lifecycle: the state machine that walks
// a recorded capture from load to ready-for-emission, the bounded store that
// holds live sessions, the processing queue, and the completion analyzer
// that tells the host what still blocks emission.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/harvestmcp/harvest/internal/authscan"
	"github.com/harvestmcp/harvest/internal/classifier"
	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/har"
)

// ErrorKind is the machine-readable failure category carried on the wire.
type ErrorKind string

const (
	ErrInvalidInput     ErrorKind = "invalid_input"
	ErrHarQualityEmpty  ErrorKind = "har_quality_empty"
	ErrHarQualityPoor   ErrorKind = "har_quality_poor"
	ErrSessionNotFound  ErrorKind = "session_not_found"
	ErrNodeNotFound     ErrorKind = "node_not_found"
	ErrWouldCreateCycle ErrorKind = "would_create_cycle"
	ErrURLNotFoundInHar ErrorKind = "url_not_found_in_har"
	ErrURLIdentification ErrorKind = "url_identification_failed"
	ErrCancelled        ErrorKind = "cancelled"
	ErrCompletionBlocked ErrorKind = "completion_blocked"
)

// Error is a categorized session failure with optional structured context.
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Session is one analysis in progress. All mutable state is accessed from a
// single task at a time; the Store serializes cross-session access.
type Session struct {
	ID        string
	Prompt    string
	CreatedAt time.Time

	Archive *har.Archive
	Jar     har.Jar
	Graph   *graph.Graph

	// Queue holds node ids awaiting a processing pass, ordered and unique.
	Queue []graph.NodeID

	InputVariables map[string]string
	ActionURL      string

	Auth   *authscan.Analysis
	Params map[graph.NodeID][]classifier.Classified

	State State
	Err   *Error
	Logs  *LogRing
}

// newSession builds the empty shell; the engine fills it in.
func newSession(prompt string, inputVars map[string]string) *Session {
	if inputVars == nil {
		inputVars = map[string]string{}
	}
	return &Session{
		ID:             uuid.NewString(),
		Prompt:         prompt,
		CreatedAt:      time.Now().UTC(),
		Graph:          graph.New(),
		InputVariables: inputVars,
		Params:         make(map[graph.NodeID][]classifier.Classified),
		State:          StateInitializing,
		Logs:           NewLogRing(),
	}
}

// enqueue appends id unless it is already queued.
func (s *Session) enqueue(id graph.NodeID) {
	for _, queued := range s.Queue {
		if queued == id {
			return
		}
	}
	s.Queue = append(s.Queue, id)
}

// dequeue pops the head of the queue.
func (s *Session) dequeue() (graph.NodeID, bool) {
	if len(s.Queue) == 0 {
		return 0, false
	}
	id := s.Queue[0]
	s.Queue = s.Queue[1:]
	return id, true
}

// fail records the error and forces the failed state.
func (s *Session) fail(kind ErrorKind, message string) *Error {
	s.Err = &Error{Kind: kind, Message: message}
	s.Logs.Append("error", "%s: %s", kind, message)
	s.State = StateFailed
	return s.Err
}
