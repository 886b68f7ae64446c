package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/harvestmcp/harvest/internal/classifier"
	"github.com/harvestmcp/harvest/internal/dynparts"
	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/har"
	"github.com/harvestmcp/harvest/internal/oracle"
	"github.com/harvestmcp/harvest/internal/resolver"
	"github.com/harvestmcp/harvest/internal/urlselect"
)

// Engine drives sessions through the analysis pipeline. It owns the agent
// components; sessions own their data. One Engine serves many sessions.
type Engine struct {
	oracle     oracle.Oracle
	identifier *urlselect.Identifier
	extractor  *dynparts.Extractor
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConsistencyThresholds tunes the session-pattern thresholds of the
// dynamic-parts extractor.
func WithConsistencyThresholds(session, fallback float64) EngineOption {
	return func(e *Engine) {
		if session > 0 {
			e.extractor.SessionThreshold = session
		}
		if fallback > 0 {
			e.extractor.FallbackThreshold = fallback
		}
	}
}

// NewEngine creates an Engine backed by the given oracle.
func NewEngine(o oracle.Oracle, opts ...EngineOption) *Engine {
	e := &Engine{
		oracle:     o,
		identifier: urlselect.New(o),
		extractor:  dynparts.New(o),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create loads a capture and cookie jar into a new session. The HAR is
// validated before the first state transition: an empty capture is refused
// outright.
func (e *Engine) Create(harPath, cookiePath, prompt string, inputVars map[string]string) (*Session, error) {
	if prompt == "" {
		return nil, &Error{Kind: ErrInvalidInput, Message: "prompt must not be empty"}
	}

	archive, err := har.LoadFile(harPath)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidInput, Message: err.Error()}
	}
	if archive.Validation().Quality == har.QualityEmpty {
		return nil, &Error{
			Kind:    ErrHarQualityEmpty,
			Message: "capture contains no entries",
			Context: map[string]any{"recommendations": archive.Validation().Recommendations},
		}
	}

	s := newSession(prompt, inputVars)
	s.Archive = archive
	s.Logs.Append("info", "loaded capture with %d requests (%s quality)", len(archive.Requests()), archive.Validation().Quality)

	if cookiePath != "" {
		jar, err := har.LoadCookieFile(cookiePath)
		if err != nil {
			s.fail(ErrInvalidInput, fmt.Sprintf("cookie file: %v", err))
			return s, s.Err
		}
		s.Jar = jar
		s.Logs.Append("info", "loaded %d cookies", len(jar))
	}

	if archive.Validation().Quality == har.QualityPoor {
		s.Logs.Append("warn", "capture quality is poor: %v", archive.Validation().Issues)
	}

	if err := s.transition(EventLoaded); err != nil {
		return s, err
	}
	return s, nil
}

// SelectWorkflow runs URL identification and installs the master node. The
// oracle call completes before any graph mutation, so a cancelled or failed
// identification adds no node; the session records the error (kind
// cancelled or url_identification_failed, with the candidate URLs as
// context when available) and moves to failed.
func (e *Engine) SelectWorkflow(ctx context.Context, s *Session) error {
	if s.State != StateAwaitingWorkflowSelection {
		return fmt.Errorf("workflow selection not valid in state %q", s.State)
	}

	info, err := e.identifier.Identify(ctx, s.Prompt, s.Archive.URLs())
	if err != nil {
		if oracle.KindOf(err) == oracle.KindCancelled || errors.Is(err, context.Canceled) {
			s.fail(ErrCancelled, "workflow selection cancelled")
			return s.Err
		}
		var ie *urlselect.IdentificationError
		if errors.As(err, &ie) {
			s.fail(ErrURLIdentification, ie.Error())
			s.Err.Context = map[string]any{"urls": ie.URLs, "suggestion": ie.Suggestion}
			return s.Err
		}
		s.fail(ErrURLIdentification, err.Error())
		return s.Err
	}

	req, ok := s.Archive.FindByURL(info.URL, info.Method)
	if !ok {
		s.fail(ErrURLNotFoundInHar, fmt.Sprintf("identified URL %s not in capture", info.URL))
		return s.Err
	}

	master := s.Graph.AddNode(graph.KindMaster, req, graph.Attrs{})
	s.ActionURL = info.URL
	s.enqueue(master)
	s.Logs.Append("info", "selected primary action %s %s (node %d)", info.Method, info.URL, master)
	return s.transition(EventWorkflowSelected)
}

// ProcessResult is the outcome of one ProcessNextNode call.
type ProcessResult struct {
	Status         string `json:"status"` // workflow_selected, processed, complete, already_complete, blocked
	ProcessedNode  int    `json:"processed_node,omitempty"`
	RemainingNodes int    `json:"remaining_nodes"`
}

// ProcessNextNode drains one node from the queue: extract dynamic parts,
// subtract input variables, resolve producers, classify parameters, enqueue
// any new producer nodes. With an empty queue it evaluates completion
// instead; calling it again once ready is a no-op.
func (e *Engine) ProcessNextNode(ctx context.Context, s *Session) (ProcessResult, error) {
	switch s.State {
	case StateReadyForEmission, StateEmitted:
		return ProcessResult{Status: "already_complete"}, nil
	case StateAwaitingWorkflowSelection:
		// A host that never called discover_workflows gets the automatic
		// selection on its first processing call.
		if err := e.SelectWorkflow(ctx, s); err != nil {
			return ProcessResult{}, err
		}
		return ProcessResult{Status: "workflow_selected", RemainingNodes: len(s.Queue)}, nil
	case StateProcessingDependencies:
	default:
		return ProcessResult{}, fmt.Errorf("process_next_node not valid in state %q", s.State)
	}

	id, ok := s.dequeue()
	if !ok {
		return e.finishProcessing(s)
	}

	node, err := s.Graph.Node(id)
	if err != nil {
		s.fail(ErrNodeNotFound, err.Error())
		return ProcessResult{}, s.Err
	}

	if node.Request != nil {
		if err := e.processRequestNode(ctx, s, node); err != nil {
			return ProcessResult{}, err
		}
	}

	if err := s.transition(EventNodeProcessed); err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Status: "processed", ProcessedNode: int(id), RemainingNodes: len(s.Queue)}, nil
}

// processRequestNode runs the per-node pipeline. All oracle work happens
// up front; graph mutations are applied only afterwards, so cancellation
// mid-pass leaves the DAG unchanged.
func (e *Engine) processRequestNode(ctx context.Context, s *Session, node *graph.Node) error {
	all := s.Archive.Requests()
	curl := node.Request.AsCurl()

	parts := e.extractor.Extract(ctx, node.Request, s.InputVariables, all)
	identified, remaining := e.extractor.MatchInputs(ctx, parts, s.InputVariables, curl)
	if err := ctx.Err(); err != nil {
		s.fail(ErrCancelled, "processing cancelled")
		return s.Err
	}

	classified := classifier.New(e.oracle, e.bootstrapLookup(s)).
		Classify(ctx, node.Request, all, s.ActionURL)
	if err := ctx.Err(); err != nil {
		s.fail(ErrCancelled, "processing cancelled")
		return s.Err
	}

	// Oracle work is done; apply mutations.
	node.DynamicParts = remaining
	node.InputVariables = identified
	s.Params[node.ID] = classified
	s.Logs.Append("info", "node %d: %d dynamic parts, %d input variables, %d parameters classified",
		node.ID, len(remaining), len(identified), len(classified))

	res := resolver.New(s.Archive, s.Jar, s.Graph)
	created, err := res.Resolve(node.ID)
	if err != nil {
		if errors.Is(err, graph.ErrWouldCreateCycle) {
			s.fail(ErrWouldCreateCycle, err.Error())
			return s.Err
		}
		s.fail(ErrNodeNotFound, err.Error())
		return s.Err
	}
	for _, newID := range created {
		s.enqueue(newID)
		if n, err := s.Graph.Node(newID); err == nil {
			s.Logs.Append("info", "discovered producer %s (node %d)", n.Label(), newID)
		}
	}
	return nil
}

// finishProcessing runs the session-level passes once the queue is empty and
// decides between ready_for_emission and staying put with blockers.
func (e *Engine) finishProcessing(s *Session) (ProcessResult, error) {
	if s.Auth == nil {
		s.runAuthScan()
	}

	analysis := AnalyzeCompletion(s)
	if !analysis.IsComplete {
		s.Logs.Append("warn", "completion blocked: %v", analysis.Blockers)
		return ProcessResult{Status: "blocked"}, &Error{
			Kind:    ErrCompletionBlocked,
			Message: "analysis is not complete",
			Context: map[string]any{
				"blockers":        analysis.Blockers,
				"recommendations": analysis.Recommendations,
			},
		}
	}
	if err := s.transition(EventQueueDrained); err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Status: "complete"}, nil
}

// bootstrapLookup adapts the resolver's scan for the classifier.
func (e *Engine) bootstrapLookup(s *Session) classifier.BootstrapLookup {
	res := resolver.New(s.Archive, s.Jar, s.Graph)
	return func(value, targetURL string) (*resolver.BootstrapSource, bool) {
		return res.FindBootstrapSource(value, targetURL)
	}
}
