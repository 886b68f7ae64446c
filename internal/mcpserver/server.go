// Package mcpserver exposes the analysis kernel as MCP tools over stdio
// JSON-RPC: session lifecycle, node processing, completion diagnostics,
// manual overrides, and client code generation.
package mcpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/harvestmcp/harvest/internal/config"
	"github.com/harvestmcp/harvest/internal/db"
	"github.com/harvestmcp/harvest/internal/session"
)

// Server holds the MCP server state.
type Server struct {
	engine *session.Engine
	store  *session.Store
	db     *db.DB // nil when persistence is disabled
}

// NewServer wires an engine and store; database is optional.
func NewServer(engine *session.Engine, store *session.Store, database *db.DB) *Server {
	return &Server{engine: engine, store: store, db: database}
}

// Serve runs the MCP stdio server. It blocks until the context is cancelled
// or stdin is closed.
func (s *Server) Serve(ctx context.Context) error {
	mcpServer := server.NewMCPServer(
		"harvest",
		config.Version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(s.tools()...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// getSession looks up a live session, falling back to a friendly error.
func (s *Server) getSession(id string) (*session.Session, *session.Error) {
	sess, ok := s.store.Get(id)
	if !ok {
		return nil, &session.Error{Kind: session.ErrSessionNotFound, Message: "no session with id " + id}
	}
	return sess, nil
}

// persist mirrors the session's current state into the database. Best
// effort: persistence failures are logged, never surfaced to the tool
// caller.
func (s *Server) persist(sess *session.Session) {
	if s.db == nil {
		return
	}

	rec := db.SessionRecord{
		ID:     sess.ID,
		Prompt: sess.Prompt,
		State:  string(sess.State),
	}
	if sess.ActionURL != "" {
		rec.ActionURL = &sess.ActionURL
	}
	if sess.Err != nil {
		kind := string(sess.Err.Kind)
		rec.ErrorKind = &kind
		rec.ErrorMessage = &sess.Err.Message
	}
	if err := s.db.UpsertSession(rec); err != nil {
		log.Printf("[mcp] persist session %s: %v", sess.ID, err)
		return
	}

	artifacts := map[string]any{
		"dag":        sess.Graph,
		"parameters": sess.Params,
		"auth":       sess.Auth,
	}
	for kind, payload := range artifacts {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[mcp] marshal %s artifact: %v", kind, err)
			continue
		}
		if err := s.db.PutArtifact(sess.ID, kind, string(data)); err != nil {
			log.Printf("[mcp] persist %s artifact: %v", kind, err)
		}
	}
}

// deletePersisted removes the session's rows, ignoring a missing database.
func (s *Server) deletePersisted(id string) {
	if s.db == nil {
		return
	}
	if err := s.db.DeleteSession(id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Printf("[mcp] delete persisted session %s: %v", id, err)
	}
}
