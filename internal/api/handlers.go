package api

import (
	"bytes"
	"context"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/lifecycle"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/outreach"
	"github.com/contractr/contractr/internal/report"
)

// Replies sent back to the SMS provider.
const (
	smsUnsubscribedReply = "You have been unsubscribed. Reply HELP for help."
	smsReceivedReply     = "Thank you for your message."
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.ProjectInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.lifecycle.CreateProject(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// projectDetail is a project with everything recorded against it.
type projectDetail struct {
	*model.Project
	Providers []candidate   `json:"providers"`
	Events    []model.Event `json:"events"`
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.store.GetProject(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	providers, err := s.candidates(ctx, p.ID, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.store.ListEvents(ctx, p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, projectDetail{Project: p, Providers: providers, Events: events})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetProject(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type candidate struct {
	model.Provider
	Contacts []model.ContactMethod `json:"contacts"`
	Threads  []threadView          `json:"threads"`
	Quotes   []model.Quote         `json:"quotes"`
}

type threadView struct {
	model.Thread
	Messages []model.Message `json:"messages,omitempty"`
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetProject(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.candidates(ctx, id, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

// candidates lists the project's providers, best score first, with their
// contacts, threads and quotes.
func (s *Server) candidates(ctx context.Context, projectID string, withMessages bool) ([]candidate, error) {
	providers, err := s.store.ListProviders(ctx, projectID)
	if err != nil {
		return nil, err
	}
	quotes, err := s.store.ListQuotes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byProvider := map[string][]model.Quote{}
	for _, q := range quotes {
		byProvider[q.ProviderID] = append(byProvider[q.ProviderID], q)
	}

	out := make([]candidate, 0, len(providers))
	for _, p := range providers {
		c := candidate{Provider: p, Contacts: []model.ContactMethod{}, Threads: []threadView{}, Quotes: []model.Quote{}}
		contacts, err := s.store.ListContacts(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		c.Contacts = append(c.Contacts, contacts...)
		threads, err := s.store.ListThreads(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range threads {
			tv := threadView{Thread: t}
			if withMessages {
				if tv.Messages, err = s.store.ListMessages(ctx, t.ID); err != nil {
					return nil, err
				}
			}
			c.Threads = append(c.Threads, tv)
		}
		c.Quotes = append(c.Quotes, byProvider[p.ID]...)
		out = append(out, c)
	}
	return out, nil
}

func (s *Server) exportQuotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := report.Compare(r.Context(), s.store, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, c); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="quotes-`+id+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) closeProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.lifecycle.Close(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) startSourcing(w http.ResponseWriter, r *http.Request) {
	p, err := s.lifecycle.StartSourcing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(p.Status)})
}

func (s *Server) startOutreach(w http.ResponseWriter, r *http.Request) {
	batch, err := s.lifecycle.StartOutreach(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (s *Server) initOutreach(w http.ResponseWriter, r *http.Request) {
	res, err := s.outreach.Initiate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetThread(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) appendMessage(w http.ResponseWriter, r *http.Request) {
	var in outreach.MessageInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.outreach.AppendMessage(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) emailWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From    string `json:"from"`
		Subject string `json:"subject"`
		Text    string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.outreach.HandleInbound(r.Context(), outreach.InboundMessage{
		Channel: model.ChannelEmail,
		From:    extractAddress(req.From),
		Subject: req.Subject,
		Body:    req.Text,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) smsWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, eris.Wrapf(model.ErrInvalidInput, "invalid form: %v", err))
		return
	}
	res, err := s.outreach.HandleInbound(r.Context(), outreach.InboundMessage{
		Channel: model.ChannelSMS,
		From:    r.PostForm.Get("From"),
		Body:    r.PostForm.Get("Body"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.OptedOut {
		writeText(w, http.StatusOK, smsUnsubscribedReply)
		return
	}
	writeText(w, http.StatusOK, smsReceivedReply)
}

// extractAddress pulls "bob@acme.com" out of "Bob <bob@acme.com>".
func extractAddress(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		return a.Address
	}
	return strings.TrimSpace(from)
}
