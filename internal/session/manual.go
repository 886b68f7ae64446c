package session

import (
	"errors"
	"fmt"

	"github.com/harvestmcp/harvest/internal/authscan"
	"github.com/harvestmcp/harvest/internal/classifier"
	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/har"
)

// Manual overrides: the escape hatches the host uses when the automatic
// pipeline gets something wrong or stalls on an unresolvable value.

// runAuthScan inventories authentication and registers every discovered
// token with the log redactor.
func (s *Session) runAuthScan() {
	s.Auth = authscan.Analyze(s.Archive)
	for _, tok := range s.Auth.Tokens {
		s.Logs.Redact(tok.Value, tok.Kind)
	}
	s.Logs.Append("info", "auth scan: %d tokens, %d endpoints, %s flow",
		len(s.Auth.Tokens), len(s.Auth.Endpoints), s.Auth.FlowComplexity)
}

// SetMasterNode designates an existing node as the primary action.
func (s *Session) SetMasterNode(id graph.NodeID) error {
	node, err := s.Graph.Node(id)
	if err != nil {
		return &Error{Kind: ErrNodeNotFound, Message: err.Error()}
	}
	if node.Request == nil {
		return &Error{Kind: ErrInvalidInput, Message: "master node must wrap a recorded request"}
	}
	node.Kind = graph.KindMaster
	s.Graph.SetMaster(id)
	s.ActionURL = node.Request.URL
	s.Logs.Append("info", "master node manually set to %d (%s)", id, node.Label())

	if s.State == StateAwaitingWorkflowSelection {
		s.enqueue(id)
		return s.transition(EventWorkflowSelected)
	}
	return nil
}

// SetActionURL installs the primary action by URL, creating the master node
// from the matching recorded request.
func (s *Session) SetActionURL(url string) error {
	req, ok := s.Archive.FindByURL(url, "")
	if !ok {
		return &Error{Kind: ErrURLNotFoundInHar, Message: fmt.Sprintf("url %s not in capture", url)}
	}
	for _, n := range s.Graph.Nodes() {
		if n.Request == req {
			return s.SetMasterNode(n.ID)
		}
	}
	id := s.Graph.AddNode(graph.KindMaster, req, graph.Attrs{})
	s.ActionURL = url
	s.Logs.Append("info", "action url manually set to %s (node %d)", url, id)
	if s.State == StateAwaitingWorkflowSelection {
		s.enqueue(id)
		return s.transition(EventWorkflowSelected)
	}
	return nil
}

// ForceDependency declares that producer supplies part to consumer,
// retracting any not_found marker for the value.
func (s *Session) ForceDependency(consumer, producer graph.NodeID, part string) error {
	if err := s.Graph.AddEdge(consumer, producer, part); err != nil {
		if errors.Is(err, graph.ErrWouldCreateCycle) {
			return &Error{Kind: ErrWouldCreateCycle, Message: err.Error()}
		}
		return &Error{Kind: ErrNodeNotFound, Message: err.Error()}
	}
	if err := s.Graph.ResolveDynamicPart(consumer, part); err != nil {
		return &Error{Kind: ErrNodeNotFound, Message: err.Error()}
	}
	if n, err := s.Graph.Node(producer); err == nil {
		found := false
		for _, p := range n.ExtractedParts {
			if p == part {
				found = true
			}
		}
		if !found {
			n.ExtractedParts = append(n.ExtractedParts, part)
		}
	}
	s.Graph.RetractNotFound(part)
	s.Logs.Append("info", "forced dependency %d -> %d for %q", consumer, producer, part)
	return nil
}

// OverrideClassification replaces the classification of the parameter with
// the given value on a node. Provenance becomes manual-override.
func (s *Session) OverrideClassification(nodeID graph.NodeID, value string, newClass classifier.Classification, reasoning string) error {
	if _, err := s.Graph.Node(nodeID); err != nil {
		return &Error{Kind: ErrNodeNotFound, Message: err.Error()}
	}
	params, ok := s.Params[nodeID]
	if !ok {
		return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf("node %d has no classified parameters", nodeID)}
	}
	for i := range params {
		if params[i].Value != value {
			continue
		}
		params[i].Classification = newClass
		params[i].Confidence = 1.0
		params[i].Provenance = classifier.ProvenanceManual
		params[i].Reasoning = reasoning
		if newClass != classifier.SessionConstant {
			params[i].Metadata.RequiresBootstrap = false
			params[i].Metadata.BootstrapUnresolved = false
		}
		s.Logs.Append("info", "node %d parameter %q overridden to %s", nodeID, params[i].Name, newClass)
		return nil
	}
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf("no parameter with value %q on node %d", value, nodeID)}
}

// InjectResponse attaches a canned response to a node's request so the
// resolver can treat it as a producer. Not_found markers covered by the
// extracted parts are retracted and their consumers re-linked here.
func (s *Session) InjectResponse(nodeID graph.NodeID, responseData string, extractedParts []string) error {
	node, err := s.Graph.Node(nodeID)
	if err != nil {
		return &Error{Kind: ErrNodeNotFound, Message: err.Error()}
	}
	if node.Request == nil {
		return &Error{Kind: ErrInvalidInput, Message: "responses can only be injected on request-backed nodes"}
	}

	node.Request.Response = &har.Response{
		Status:     200,
		StatusText: "OK",
		Body:       har.Body{MimeType: "application/json", Text: responseData},
	}
	for _, part := range extractedParts {
		node.ExtractedParts = append(node.ExtractedParts, part)
		for _, consumer := range s.Graph.RetractNotFound(part) {
			target := nodeID
			if consumer == nodeID {
				// The value came from the consumer's own response: there is
				// no prior producer, so the caller supplies it at runtime.
				target = s.Graph.AddNode(graph.KindInput, part, graph.Attrs{ExtractedParts: []string{part}})
			}
			if err := s.Graph.AddEdge(consumer, target, part); err != nil {
				return &Error{Kind: ErrWouldCreateCycle, Message: err.Error()}
			}
		}
	}
	s.Logs.Append("info", "injected response on node %d (%d extracted parts)", nodeID, len(extractedParts))
	return nil
}

// Emit marks the session emitted; the code generator calls this after
// rendering succeeds.
func (s *Session) Emit() error {
	return s.transition(EventEmit)
}
