package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/harvestmcp/harvest/internal/classifier"
	"github.com/harvestmcp/harvest/internal/codegen"
	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/session"
)

// tools returns the full tool surface in registration order.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startSessionTool(), Handler: s.handleStartSession},
		{Tool: processNextNodeTool(), Handler: s.handleProcessNextNode},
		{Tool: isCompleteTool(), Handler: s.handleIsComplete},
		{Tool: discoverWorkflowsTool(), Handler: s.handleDiscoverWorkflows},
		{Tool: setMasterNodeTool(), Handler: s.handleSetMasterNode},
		{Tool: setActionURLTool(), Handler: s.handleSetActionURL},
		{Tool: forceDependencyTool(), Handler: s.handleForceDependency},
		{Tool: overrideClassificationTool(), Handler: s.handleOverrideClassification},
		{Tool: injectResponseTool(), Handler: s.handleInjectResponse},
		{Tool: listSessionsTool(), Handler: s.handleListSessions},
		{Tool: deleteSessionTool(), Handler: s.handleDeleteSession},
		{Tool: getSessionLogsTool(), Handler: s.handleGetSessionLogs},
		{Tool: generateClientCodeTool(), Handler: s.handleGenerateClientCode},
	}
}

// --- Tool Definitions ---

func startSessionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"start_session",
		"Load a recorded browser session (HAR plus optional cookie jar) and a natural-language goal, creating an analysis session.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"har_path": {
					"type": "string",
					"description": "Path to the HAR 1.2 file"
				},
				"cookie_path": {
					"type": "string",
					"description": "Path to the cookie export (optional)"
				},
				"prompt": {
					"type": "string",
					"description": "What the generated client should do"
				},
				"input_variables": {
					"type": "object",
					"additionalProperties": {"type": "string"},
					"description": "Values the user typed during recording (e.g. a search term)"
				}
			},
			"required": ["har_path", "prompt"]
		}`),
	)
}

func processNextNodeTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"process_next_node",
		"Advance the analysis by one step: select the workflow if none is selected, otherwise drain one node from the processing queue.",
		sessionIDSchema(),
	)
}

func isCompleteTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"is_complete",
		"Report readiness-for-emission with per-predicate diagnostics, blockers, and recommended repairs.",
		sessionIDSchema(),
	)
}

func discoverWorkflowsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"discover_workflows",
		"List candidate workflow groups from the capture, ranked against the goal, before one is selected.",
		sessionIDSchema(),
	)
}

func setMasterNodeTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"set_master_node",
		"Manually designate an existing graph node as the primary action.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"node_id": {"type": "integer"}
			},
			"required": ["session_id", "node_id"]
		}`),
	)
}

func setActionURLTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"set_action_url",
		"Manually set the primary action URL; the matching recorded request becomes the master node.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"url": {"type": "string"}
			},
			"required": ["session_id", "url"]
		}`),
	)
}

func forceDependencyTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"force_dependency",
		"Declare that one node supplies a dynamic value to another, overriding the resolver.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"consumer": {"type": "integer"},
				"producer": {"type": "integer"},
				"provided_part": {"type": "string"}
			},
			"required": ["session_id", "consumer", "producer", "provided_part"]
		}`),
	)
}

func overrideClassificationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"override_parameter_classification",
		"Replace the classification of a parameter on a node (dynamic, sessionConstant, userInput, staticConstant, optional).",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"node_id": {"type": "integer"},
				"value": {"type": "string"},
				"classification": {
					"type": "string",
					"enum": ["dynamic", "sessionConstant", "userInput", "staticConstant", "optional"]
				},
				"reasoning": {"type": "string"}
			},
			"required": ["session_id", "node_id", "value", "classification"]
		}`),
	)
}

func injectResponseTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"inject_response",
		"Attach a canned response to a node so the resolver can treat it as a producer for otherwise-unresolvable values.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"node_id": {"type": "integer"},
				"response_data": {"type": "string"},
				"extracted_parts": {
					"type": "array",
					"items": {"type": "string"}
				}
			},
			"required": ["session_id", "node_id", "response_data"]
		}`),
	)
}

func listSessionsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_sessions",
		"List live analysis sessions, most recently used first.",
		json.RawMessage(`{"type": "object", "properties": {}}`),
	)
}

func deleteSessionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"delete_session",
		"Destroy a session and its persisted artifacts.",
		sessionIDSchema(),
	)
}

func getSessionLogsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_session_logs",
		"Return the session's diagnostic log ring (up to the last 1000 entries, credentials redacted).",
		sessionIDSchema(),
	)
}

func generateClientCodeTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"generate_client_code",
		"Render the completed dependency graph as a standalone Go client.",
		sessionIDSchema(),
	)
}

func sessionIDSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"}
		},
		"required": ["session_id"]
	}`)
}

// --- Tool Handlers ---

func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

type startSessionArgs struct {
	HarPath        string            `json:"har_path"`
	CookiePath     string            `json:"cookie_path"`
	Prompt         string            `json:"prompt"`
	InputVariables map[string]string `json:"input_variables"`
}

func (s *Server) handleStartSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args startSessionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.HarPath == "" || args.Prompt == "" {
		return mcp.NewToolResultError("har_path and prompt are required"), nil
	}

	sess, err := s.engine.Create(args.HarPath, args.CookiePath, args.Prompt, args.InputVariables)
	if err != nil {
		return toolError(err)
	}
	if evicted := s.store.Put(sess); evicted != "" {
		s.deletePersisted(evicted)
	}
	s.persist(sess)

	return resultJSON(map[string]any{
		"session_id": sess.ID,
		"state":      sess.State,
		"validation": sess.Archive.Validation(),
	})
}

type sessionIDArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleProcessNextNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionIDArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}

	res, err := s.engine.ProcessNextNode(ctx, sess)
	s.persist(sess)
	if err != nil {
		return toolError(err)
	}
	return resultJSON(map[string]any{
		"status":          res.Status,
		"remaining_nodes": res.RemainingNodes,
		"state":           sess.State,
	})
}

func (s *Server) handleIsComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionIDArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	return resultJSON(session.AnalyzeCompletion(sess))
}

func (s *Server) handleDiscoverWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionIDArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	return resultJSON(session.DiscoverWorkflows(sess))
}

type setMasterNodeArgs struct {
	SessionID string `json:"session_id"`
	NodeID    int    `json:"node_id"`
}

func (s *Server) handleSetMasterNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args setMasterNodeArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	if err := sess.SetMasterNode(graph.NodeID(args.NodeID)); err != nil {
		return toolError(err)
	}
	s.persist(sess)
	return resultJSON(map[string]any{"state": sess.State, "action_url": sess.ActionURL})
}

type setActionURLArgs struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func (s *Server) handleSetActionURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args setActionURLArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	if err := sess.SetActionURL(args.URL); err != nil {
		return toolError(err)
	}
	s.persist(sess)
	return resultJSON(map[string]any{"state": sess.State, "action_url": sess.ActionURL})
}

type forceDependencyArgs struct {
	SessionID    string `json:"session_id"`
	Consumer     int    `json:"consumer"`
	Producer     int    `json:"producer"`
	ProvidedPart string `json:"provided_part"`
}

func (s *Server) handleForceDependency(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args forceDependencyArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ProvidedPart == "" {
		return mcp.NewToolResultError("provided_part is required"), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	if err := sess.ForceDependency(graph.NodeID(args.Consumer), graph.NodeID(args.Producer), args.ProvidedPart); err != nil {
		return toolError(err)
	}
	s.persist(sess)
	return resultJSON(map[string]any{"dag_complete": sess.Graph.IsComplete()})
}

type overrideClassificationArgs struct {
	SessionID      string `json:"session_id"`
	NodeID         int    `json:"node_id"`
	Value          string `json:"value"`
	Classification string `json:"classification"`
	Reasoning      string `json:"reasoning"`
}

func (s *Server) handleOverrideClassification(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args overrideClassificationArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	err := sess.OverrideClassification(
		graph.NodeID(args.NodeID), args.Value,
		classifier.Classification(args.Classification), args.Reasoning)
	if err != nil {
		return toolError(err)
	}
	s.persist(sess)
	return resultJSON(map[string]any{"status": "overridden"})
}

type injectResponseArgs struct {
	SessionID      string   `json:"session_id"`
	NodeID         int      `json:"node_id"`
	ResponseData   string   `json:"response_data"`
	ExtractedParts []string `json:"extracted_parts"`
}

func (s *Server) handleInjectResponse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args injectResponseArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	if err := sess.InjectResponse(graph.NodeID(args.NodeID), args.ResponseData, args.ExtractedParts); err != nil {
		return toolError(err)
	}
	s.persist(sess)
	return resultJSON(map[string]any{"dag_complete": sess.Graph.IsComplete()})
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type summary struct {
		SessionID string `json:"session_id"`
		Prompt    string `json:"prompt"`
		State     string `json:"state"`
		ActionURL string `json:"action_url,omitempty"`
		Nodes     int    `json:"nodes"`
	}
	var out []summary
	for _, sess := range s.store.List() {
		out = append(out, summary{
			SessionID: sess.ID,
			Prompt:    sess.Prompt,
			State:     string(sess.State),
			ActionURL: sess.ActionURL,
			Nodes:     sess.Graph.NodeCount(),
		})
	}
	return resultJSON(out)
}

func (s *Server) handleDeleteSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionIDArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if _, serr := s.getSession(args.SessionID); serr != nil {
		return toolError(serr)
	}
	s.store.Delete(args.SessionID)
	s.deletePersisted(args.SessionID)
	return resultJSON(map[string]any{"status": "deleted"})
}

func (s *Server) handleGetSessionLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionIDArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}
	return resultJSON(sess.Logs.Entries())
}

func (s *Server) handleGenerateClientCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionIDArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, serr := s.getSession(args.SessionID)
	if serr != nil {
		return toolError(serr)
	}

	analysis := session.AnalyzeCompletion(sess)
	if !analysis.IsComplete {
		return resultJSON(map[string]any{
			"status":          "blocked",
			"blockers":        analysis.Blockers,
			"recommendations": analysis.Recommendations,
		})
	}

	// A drained-but-unfinished session moves to ready first.
	if sess.State == session.StateProcessingDependencies {
		if _, err := s.engine.ProcessNextNode(ctx, sess); err != nil {
			return toolError(err)
		}
	}

	src, err := codegen.Render(sess.Prompt, sess.Graph, sess.Jar)
	if err != nil {
		return toolError(err)
	}
	if err := sess.Emit(); err != nil {
		return toolError(err)
	}
	s.persist(sess)
	return resultJSON(map[string]any{"status": "emitted", "source": src})
}
