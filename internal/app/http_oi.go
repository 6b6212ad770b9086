package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"comicsdb/api/internal/oi"
	"comicsdb/api/internal/rbac"
	"comicsdb/api/internal/store"
)

type notesBody struct {
	Notes string `json:"notes"`
}

// handleOI routes /api/oi/... Permission rules live in the oi service;
// only the queue and operator routes check roles here.
func (s *HTTPServer) handleOI(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch parts[0] {
	case "reserve":
		s.handleReserve(w, r, session)
	case "add":
		s.handleAdd(w, r, session)
	case "new":
		s.handleNewPayload(w, r, parts[1:])
	case "variant":
		s.handleAddVariant(w, r, session)
	case "add-issues":
		s.handleAddIssues(w, r, session)
	case "two-issues":
		s.handleTwoIssues(w, r, session)
	case "changesets":
		s.handleChangesets(w, r, session, parts[1:])
	case "revisions":
		s.handleRevisions(w, r, session, parts[1:])
	case "queues":
		s.handleQueues(w, r, session, parts[1:])
	case "ongoing":
		s.handleOngoing(w, r, session, parts[1:])
	case "history":
		s.handleHistory(w, r, parts[1:])
	case "cleanup":
		s.handleCleanup(w, r, session)
	case "inbox":
		s.handleInbox(w, r, session)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func badBody(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Kind   store.Kind `json:"kind"`
		ID     int64      `json:"id"`
		Delete bool       `json:"delete"`
		Notes  string     `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		badBody(w, err)
		return
	}
	cs, err := s.service.oi.Reserve(r.Context(), session.UserID, body.Kind, body.ID, oi.ReserveOptions{Delete: body.Delete, Notes: body.Notes})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChangesetJSON(cs))
}

func (s *HTTPServer) handleAdd(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Kind           store.Kind      `json:"kind"`
		Data           json.RawMessage `json:"data"`
		Notes          string          `json:"notes"`
		RequestOngoing bool            `json:"requestOngoing"`
	}
	if err := decodeBody(r, &body); err != nil {
		badBody(w, err)
		return
	}
	data, err := payload(body.Kind, body.Data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	cs, err := s.service.oi.Add(r.Context(), session.UserID, data, oi.AddOptions{Notes: body.Notes, RequestOngoing: body.RequestOngoing})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChangesetJSON(cs))
}

func (s *HTTPServer) handleAddIssues(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		SeriesID    int64           `json:"seriesId"`
		Method      string          `json:"method"`
		Count       int             `json:"count"`
		FirstNumber int             `json:"firstNumber"`
		PerCycle    int             `json:"perCycle"`
		FirstVolume int             `json:"firstVolume"`
		FirstYear   int             `json:"firstYear"`
		Volume      string          `json:"volume"`
		Template    json.RawMessage `json:"template"`
		Notes       string          `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		badBody(w, err)
		return
	}
	var template store.IssueData
	if len(body.Template) > 0 {
		data, err := payload(store.KindIssue, body.Template)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		template = *data.(*store.IssueData)
	}
	cs, err := s.service.oi.AddIssues(r.Context(), session.UserID, body.SeriesID, oi.BulkIssues{
		Method:      body.Method,
		Count:       body.Count,
		FirstNumber: body.FirstNumber,
		PerCycle:    body.PerCycle,
		FirstVolume: body.FirstVolume,
		FirstYear:   body.FirstYear,
		Volume:      body.Volume,
		Template:    template,
		Notes:       body.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChangesetJSON(cs))
}

func (s *HTTPServer) handleNewPayload(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 {
		methodNotAllowed(w)
		return
	}
	data, err := payload(store.Kind(parts[0]), nil)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": data.Kind(), "data": data})
}

func (s *HTTPServer) handleAddVariant(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		BaseIssueID int64           `json:"baseIssueId"`
		Data        json.RawMessage `json:"data"`
		Notes       string          `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		badBody(w, err)
		return
	}
	data := &store.IssueData{}
	if len(body.Data) > 0 {
		if err := decodeInto(body.Data, data); err != nil {
			writeServiceError(w, r, &oi.DomainError{Kind: oi.KindValidation, Code: oi.CodeInvalidRevision, Message: err.Error()})
			return
		}
	}
	cs, err := s.service.oi.AddVariant(r.Context(), session.UserID, body.BaseIssueID, data, body.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChangesetJSON(cs))
}

func (s *HTTPServer) handleTwoIssues(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		FirstID  int64  `json:"firstId"`
		SecondID int64  `json:"secondId"`
		Notes    string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		badBody(w, err)
		return
	}
	cs, err := s.service.oi.ReserveTwoIssues(r.Context(), session.UserID, body.FirstID, body.SecondID, body.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChangesetJSON(cs))
}

func (s *HTTPServer) handleChangesets(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid changeset id", nil)
		return
	}
	ctx := r.Context()

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		view, err := s.service.oi.Changeset(ctx, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toViewJSON(view))
		return
	}

	action := parts[1]
	if action == "compare" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		result, err := s.service.oi.Compare(ctx, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if action == "comments" {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			badBody(w, err)
			return
		}
		comment, err := s.service.oi.Comment(ctx, session.UserID, id, body.Text)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCommentJSON(comment))
		return
	}

	transitions := map[string]func(uid, csID int64, notes string) (store.Changeset, error){
		"submit": func(uid, csID int64, notes string) (store.Changeset, error) {
			return s.service.oi.Submit(ctx, uid, csID, notes)
		},
		"retract": func(uid, csID int64, notes string) (store.Changeset, error) {
			return s.service.oi.Retract(ctx, uid, csID, notes)
		},
		"discard": func(uid, csID int64, notes string) (store.Changeset, error) {
			return s.service.oi.Discard(ctx, uid, csID, notes)
		},
		"assign": func(uid, csID int64, notes string) (store.Changeset, error) {
			return s.service.oi.Assign(ctx, uid, csID, notes)
		},
		"release": func(uid, csID int64, notes string) (store.Changeset, error) {
			return s.service.oi.Release(ctx, uid, csID, notes)
		},
		"approve": func(uid, csID int64, notes string) (store.Changeset, error) {
			return s.service.oi.Approve(ctx, uid, csID, notes)
		},
		"disapprove": func(uid, csID int64, notes string) (store.Changeset, error) {
			return s.service.oi.Disapprove(ctx, uid, csID, notes)
		},
	}
	transition, ok := transitions[action]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	var body notesBody
	if err := decodeBody(r, &body); err != nil {
		badBody(w, err)
		return
	}
	cs, err := transition(session.UserID, id, body.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChangesetJSON(cs))
}

func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid revision id", nil)
		return
	}
	ctx := r.Context()

	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		if err := decodeBody(r, &body); err != nil {
			badBody(w, err)
			return
		}
		data, err := s.service.revisionPayload(ctx, id, body.Data)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		rev, err := s.service.oi.UpdateRevision(ctx, session.UserID, id, data)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRevisionJSON(rev))

	case len(parts) == 2 && parts[1] == "stories" && r.Method == http.MethodPost:
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		if err := decodeBody(r, &body); err != nil {
			badBody(w, err)
			return
		}
		data, err := payload(store.KindStory, body.Data)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		rev, err := s.service.oi.AddStory(ctx, session.UserID, id, data.(*store.StoryData))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRevisionJSON(rev))

	case len(parts) == 2 && parts[1] == "toggle-deleted" && r.Method == http.MethodPost:
		rev, err := s.service.oi.ToggleDeleted(ctx, session.UserID, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRevisionJSON(rev))

	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleQueues(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 {
		methodNotAllowed(w)
		return
	}
	ctx := r.Context()
	var (
		items []store.Changeset
		err   error
	)
	switch parts[0] {
	case "open":
		items, err = s.service.oi.OpenByIndexer(ctx, session.UserID)
	case "active":
		items, err = s.service.oi.ActiveByIndexer(ctx, session.UserID)
	case "pending":
		if !s.service.Can(session.Role, rbac.ActionApprove) {
			s.forbid(w, r, session, rbac.ActionApprove)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err = s.service.oi.Pending(ctx, limit)
	case "reviewing":
		if !s.service.Can(session.Role, rbac.ActionApprove) {
			s.forbid(w, r, session, rbac.ActionApprove)
			return
		}
		items, err = s.service.oi.ReviewingByApprover(ctx, session.UserID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown queue", nil)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toChangesetList(items)})
}

func (s *HTTPServer) handleOngoing(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			SeriesID int64 `json:"seriesId"`
		}
		if err := decodeBody(r, &body); err != nil {
			badBody(w, err)
			return
		}
		res, err := s.service.oi.RequestOngoing(ctx, session.UserID, body.SeriesID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"seriesId":  res.SeriesID,
			"indexerId": res.IndexerID,
			"createdAt": res.CreatedAt,
		})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		seriesID, ok := parseID(parts[0])
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid series id", nil)
			return
		}
		if err := s.service.oi.DeleteOngoing(ctx, session.UserID, seriesID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 2 {
		methodNotAllowed(w)
		return
	}
	kind := store.Kind(parts[0])
	id, ok := parseID(parts[1])
	if !kind.Valid() || !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid record", nil)
		return
	}
	if s.service.archive == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.archive.History(kind, id, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCleanup(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionAdmin) {
		s.forbid(w, r, session, rbac.ActionAdmin)
		return
	}
	var body struct {
		Weeks int `json:"weeks"`
	}
	if err := decodeBody(r, &body); err != nil {
		badBody(w, err)
		return
	}
	cleared, err := s.service.oi.ClearStaleReservations(r.Context(), time.Duration(body.Weeks)*7*24*time.Hour)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

// handleInbox lists queued notifications. Approvers can read the shared
// pending queue with ?queue=pending.
func (s *HTTPServer) handleInbox(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.service.inbox == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	userID := session.UserID
	if r.URL.Query().Get("queue") == "pending" {
		if !s.service.Can(session.Role, rbac.ActionApprove) {
			s.forbid(w, r, session, rbac.ActionApprove)
			return
		}
		userID = 0
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	items, err := s.service.inbox.Inbox(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
