package session

import (
	"github.com/harvestmcp/harvest/internal/classifier"
	"github.com/harvestmcp/harvest/internal/graph"
)

// CompletionAnalysis is the single source of truth for
// readiness-for-emission. Every predicate that gates emission is reported
// individually, failing ones become blockers, and each blocker maps to
// actions from a fixed catalog.
type CompletionAnalysis struct {
	IsComplete bool `json:"is_complete"`

	HasMasterNode bool `json:"has_master_node"`
	HasActionURL  bool `json:"has_action_url"`
	DAGComplete   bool `json:"dag_complete"`
	QueueEmpty    bool `json:"queue_empty"`

	TotalNodes      int `json:"total_nodes"`
	UnresolvedNodes int `json:"unresolved_nodes"`
	PendingInQueue  int `json:"pending_in_queue"`

	AuthAnalysisComplete bool     `json:"auth_analysis_complete"`
	AuthReadiness        bool     `json:"auth_readiness"`
	AuthErrors           []string `json:"auth_errors,omitempty"`

	AllNodesClassified        bool `json:"all_nodes_classified"`
	NodesNeedingClassification int  `json:"nodes_needing_classification"`

	BootstrapAnalysisComplete  bool `json:"bootstrap_analysis_complete"`
	SessionConstantsCount      int  `json:"session_constants_count"`
	UnresolvedSessionConstants int  `json:"unresolved_session_constants"`

	Blockers        []string `json:"blockers,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// The recommendation catalog. Each blocker maps to one or two fixed actions.
var recommendationCatalog = map[string][]string{
	"NoMasterNode":               {"select a workflow, or use set_master_node to pick the primary request manually"},
	"NoActionURL":                {"use set_action_url to name the primary action URL"},
	"UnresolvedNodes":            {"use force_dependency to link a known producer", "use inject_response to supply a canned response"},
	"QueueNotEmpty":              {"call process_next_node until the queue drains"},
	"AuthNotReady":               {"re-record the session with valid credentials", "inspect auth_errors for the failing requests"},
	"NodesNeedingClassification": {"call process_next_node to classify remaining nodes"},
	"UnresolvedSessionConstants": {"use inject_response to provide the bootstrap response", "use override_parameter_classification if the value is really user input"},
}

// AnalyzeCompletion computes the full diagnostic set for a session.
func AnalyzeCompletion(s *Session) CompletionAnalysis {
	a := CompletionAnalysis{}

	_, a.HasMasterNode = s.Graph.Master()
	a.HasActionURL = s.ActionURL != ""
	a.DAGComplete = s.Graph.IsComplete()
	a.QueueEmpty = len(s.Queue) == 0
	a.PendingInQueue = len(s.Queue)
	a.TotalNodes = s.Graph.NodeCount()

	unresolved := s.Graph.Unresolved()
	for _, n := range s.Graph.Nodes() {
		if n.Kind == graph.KindNotFound {
			a.UnresolvedNodes++
		}
	}
	a.UnresolvedNodes += len(unresolved)

	a.AuthAnalysisComplete = s.Auth != nil
	if s.Auth != nil {
		a.AuthReadiness = s.Auth.Readiness.IsReady || len(s.Auth.Tokens) == 0
		a.AuthErrors = s.Auth.SecurityIssues
	}

	a.AllNodesClassified = true
	for _, n := range s.Graph.Nodes() {
		if n.Kind != graph.KindMaster && n.Kind != graph.KindCurl {
			continue
		}
		if _, ok := s.Params[n.ID]; !ok {
			a.AllNodesClassified = false
			a.NodesNeedingClassification++
		}
	}

	// A session constant already carried by a graph edge or the cookie jar
	// has a known source even when the bootstrap text search came up empty.
	resolvedValues := make(map[string]bool)
	for _, e := range s.Graph.Edges() {
		resolvedValues[e.Label] = true
	}
	for _, c := range s.Jar {
		resolvedValues[c.Value] = true
	}

	a.BootstrapAnalysisComplete = true
	for _, params := range s.Params {
		for _, p := range params {
			if p.Classification != classifier.SessionConstant {
				continue
			}
			a.SessionConstantsCount++
			if p.Metadata.BootstrapUnresolved && !resolvedValues[p.Value] {
				a.UnresolvedSessionConstants++
			}
		}
	}

	a.IsComplete = a.HasMasterNode && a.DAGComplete && a.QueueEmpty &&
		a.AuthReadiness && a.AllNodesClassified && a.UnresolvedSessionConstants == 0

	addBlocker := func(name string) {
		a.Blockers = append(a.Blockers, name)
		a.Recommendations = append(a.Recommendations, recommendationCatalog[name]...)
	}
	if !a.HasMasterNode {
		addBlocker("NoMasterNode")
	}
	if !a.HasActionURL {
		addBlocker("NoActionURL")
	}
	if !a.DAGComplete {
		addBlocker("UnresolvedNodes")
	}
	if !a.QueueEmpty {
		addBlocker("QueueNotEmpty")
	}
	if a.AuthAnalysisComplete && !a.AuthReadiness {
		addBlocker("AuthNotReady")
	}
	if !a.AllNodesClassified {
		addBlocker("NodesNeedingClassification")
	}
	if a.UnresolvedSessionConstants > 0 {
		addBlocker("UnresolvedSessionConstants")
	}
	return a
}
