// Package web serves a read-only diagnostics dashboard for live sessions:
// a session list, a per-session report rendered from markdown, the log tail,
// and a small JSON API mirroring the read-only MCP operations.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/harvestmcp/harvest/internal/config"
	"github.com/harvestmcp/harvest/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server is the HTTP server for the dashboard.
type Server struct {
	store  *session.Store
	mux    *http.ServeMux
	tmpl   *template.Template
	server *http.Server
	md     goldmark.Markdown
}

// NewServer builds the dashboard over the given session store.
func NewServer(store *session.Store, port int) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		store: store,
		mux:   http.NewServeMux(),
		tmpl:  tmpl,
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	s.mux.HandleFunc("GET /", s.handleIndex)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleAPISessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleAPISession)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/logs", s.handleAPILogs)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// --- HTML handlers ---

type sessionRow struct {
	ID        string
	ShortID   string
	Prompt    string
	State     session.State
	ActionURL string
	Nodes     int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var rows []sessionRow
	for _, sess := range s.store.List() {
		rows = append(rows, sessionRow{
			ID:        sess.ID,
			ShortID:   shortID(sess.ID),
			Prompt:    sess.Prompt,
			State:     sess.State,
			ActionURL: sess.ActionURL,
			Nodes:     sess.Graph.NodeCount(),
		})
	}
	s.render(w, "index.html", map[string]any{
		"Sessions": rows,
		"Version":  config.Version,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	var html bytes.Buffer
	if err := s.md.Convert([]byte(buildReport(sess)), &html); err != nil {
		log.Printf("[web] render report: %v", err)
	}

	s.render(w, "session.html", map[string]any{
		"ShortID": shortID(sess.ID),
		"Prompt":  sess.Prompt,
		"Report":  template.HTML(html.String()),
		"Logs":    sess.Logs.Entries(),
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("[web] render %s: %v", name, err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// buildReport summarizes a session as markdown for the detail page.
func buildReport(sess *session.Session) string {
	var b strings.Builder
	analysis := session.AnalyzeCompletion(sess)

	fmt.Fprintf(&b, "**State:** `%s`\n\n", sess.State)
	if sess.ActionURL != "" {
		fmt.Fprintf(&b, "**Primary action:** `%s`\n\n", sess.ActionURL)
	}
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Nodes | %d |\n", analysis.TotalNodes)
	fmt.Fprintf(&b, "| Unresolved | %d |\n", analysis.UnresolvedNodes)
	fmt.Fprintf(&b, "| Queue | %d |\n", analysis.PendingInQueue)
	fmt.Fprintf(&b, "| Session constants | %d |\n", analysis.SessionConstantsCount)
	if sess.Auth != nil {
		fmt.Fprintf(&b, "| Auth tokens | %d (%s flow) |\n", len(sess.Auth.Tokens), sess.Auth.FlowComplexity)
	}

	if len(analysis.Blockers) > 0 {
		b.WriteString("\n### Blockers\n\n")
		for i, blocker := range analysis.Blockers {
			fmt.Fprintf(&b, "- **%s**", blocker)
			if i < len(analysis.Recommendations) {
				fmt.Fprintf(&b, " — %s", analysis.Recommendations[i])
			}
			b.WriteString("\n")
		}
	} else if analysis.IsComplete {
		b.WriteString("\nAnalysis complete; the client can be generated.\n")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- JSON API ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[web] writeJSON: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": config.Version})
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	type summary struct {
		SessionID string `json:"session_id"`
		Prompt    string `json:"prompt"`
		State     string `json:"state"`
		ActionURL string `json:"action_url,omitempty"`
		Nodes     int    `json:"nodes"`
	}
	out := []summary{}
	for _, sess := range s.store.List() {
		out = append(out, summary{
			SessionID: sess.ID,
			Prompt:    sess.Prompt,
			State:     string(sess.State),
			ActionURL: sess.ActionURL,
			Nodes:     sess.Graph.NodeCount(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"prompt":     sess.Prompt,
		"state":      sess.State,
		"action_url": sess.ActionURL,
		"completion": session.AnalyzeCompletion(sess),
	})
}

func (s *Server) handleAPILogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess.Logs.Entries())
}
