package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"vantadb.org/internal/access"
	"vantadb.org/internal/audit"
	"vantadb.org/internal/auth"
	"vantadb.org/internal/obs"
)

type subjectRequest struct {
	User   string `json:"user,omitempty"`
	Record string `json:"record,omitempty"`
}

type createGrantRequest struct {
	Subject subjectRequest `json:"subject"`
}

type grantFilter struct {
	Type   string `json:"type,omitempty"`
	User   string `json:"user,omitempty"`
	Record string `json:"record,omitempty"`
}

type revokeGrantsRequest struct {
	Filter *grantFilter `json:"filter,omitempty"`
}

type purgeGrantsRequest struct {
	Expired      bool  `json:"expired"`
	Revoked      bool  `json:"revoked"`
	GraceSeconds int64 `json:"grace_seconds"`
}

type authenticateRequest struct {
	Token string `json:"token"`
}

type grantListResponse struct {
	Items []access.AccessGrant `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

// handleAccess routes /v1/access/{method}/... to the lifecycle handlers.
func (a *API) handleAccess(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/access/")
	if rest == "" || rest == r.URL.Path {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	method := strings.TrimSpace(parts[0])
	if method == "" || len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "grants":
		switch r.Method {
		case http.MethodPost:
			a.createGrant(w, r, method)
		case http.MethodGet:
			a.listGrants(w, r, method)
		default:
			methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
		}
	case len(parts) == 3 && parts[1] == "grants":
		id := parts[2]
		switch r.Method {
		case http.MethodGet:
			a.showGrant(w, r, method, id)
		case http.MethodDelete:
			a.revokeGrant(w, r, method, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.revokeGrants(w, r, method)
	case len(parts) == 2 && parts[1] == "purge":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.purgeGrants(w, r, method)
	case len(parts) == 2 && parts[1] == "authenticate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.authenticate(w, r, method)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// session builds the engine session from the authenticated actor and the
// tenancy selection passed as query parameters.
func (a *API) session(w http.ResponseWriter, r *http.Request) (access.Session, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return access.Session{}, false
	}
	q := r.URL.Query()
	selection := access.Target{
		Level:     access.Level(strings.TrimSpace(q.Get("level"))),
		Namespace: strings.TrimSpace(q.Get("namespace")),
		Database:  strings.TrimSpace(q.Get("database")),
	}
	if selection.Level == "" {
		// Without an explicit selection operate at the actor's own scope.
		selection = actor.Scope
	}
	if err := selection.Validate(); err != nil {
		handleAccessError(w, r, err)
		return access.Session{}, false
	}
	return access.Session{Actor: actor, Selection: selection, Strict: a.strict}, true
}

func (f *grantFilter) predicate() access.Predicate {
	if f == nil || (f.Type == "" && f.User == "" && f.Record == "") {
		return nil
	}
	return func(ctx context.Context, doc map[string]any) (bool, error) {
		if f.Type != "" && doc["type"] != f.Type {
			return false, nil
		}
		subject, _ := doc["subject"].(map[string]any)
		if f.User != "" && subject["user"] != f.User {
			return false, nil
		}
		if f.Record != "" && subject["record"] != f.Record {
			return false, nil
		}
		return true, nil
	}
}

func filterFromQuery(q map[string][]string) *grantFilter {
	get := func(key string) string {
		if vs := q[key]; len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
		return ""
	}
	f := &grantFilter{
		Type:   get("type"),
		User:   get("user"),
		Record: get("record"),
	}
	if f.Type == "" && f.User == "" && f.Record == "" {
		return nil
	}
	return f
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request, method string) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var subject access.Subject
	switch {
	case req.Subject.User != "" && req.Subject.Record != "":
		writeError(w, r, http.StatusBadRequest, "subject must name either a user or a record, not both")
		return
	case req.Subject.User != "":
		subject = access.UserSubject(req.Subject.User)
	case req.Subject.Record != "":
		subject = access.RecordSubject(req.Subject.Record)
	default:
		writeError(w, r, http.StatusBadRequest, "subject is required")
		return
	}

	stmt := access.GrantStatement{Method: method, Subject: subject}
	grant, err := a.engine.CreateGrant(r.Context(), stmt, sess)
	obs.ObserveAccessOp("create", err)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.grant.create", map[string]any{
		"method":  method,
		"grant":   grant.ID,
		"type":    grant.Grant.Variant(),
		"subject": grant.Subject.ID(),
		"level":   string(sess.Selection.Level),
	})

	w.Header().Set("Location", "/v1/access/"+method+"/grants/"+grant.ID)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request, method string) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	stmt := access.ShowStatement{
		Method: method,
		Cond:   filterFromQuery(r.URL.Query()).predicate(),
	}
	grants, err := a.engine.ShowGrants(r.Context(), stmt, sess)
	obs.ObserveAccessOp("show", err)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantListResponse{
		Items: grants,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) showGrant(w http.ResponseWriter, r *http.Request, method, id string) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	stmt := access.ShowStatement{Method: method, Grant: id}
	grants, err := a.engine.ShowGrants(r.Context(), stmt, sess)
	obs.ObserveAccessOp("show", err)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if len(grants) == 0 {
		writeError(w, r, http.StatusNotFound, "grant not found")
		return
	}
	writeJSON(w, http.StatusOK, grants[0])
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, method, id string) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	stmt := access.RevokeStatement{Method: method, Grant: id}
	revoked, err := a.engine.RevokeGrants(r.Context(), stmt, sess)
	obs.ObserveAccessOp("revoke", err)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if len(revoked) == 0 {
		writeError(w, r, http.StatusNotFound, "grant not found")
		return
	}

	_ = audit.LogEvent(r.Context(), "access.grant.revoke", map[string]any{
		"method": method,
		"grant":  id,
		"level":  string(sess.Selection.Level),
	})

	writeJSON(w, http.StatusOK, revoked[0])
}

func (a *API) revokeGrants(w http.ResponseWriter, r *http.Request, method string) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req revokeGrantsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	stmt := access.RevokeStatement{
		Method: method,
		Cond:   req.Filter.predicate(),
	}
	revoked, err := a.engine.RevokeGrants(r.Context(), stmt, sess)
	obs.ObserveAccessOp("revoke", err)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.grant.revoke_bulk", map[string]any{
		"method":  method,
		"revoked": len(revoked),
		"level":   string(sess.Selection.Level),
	})

	writeJSON(w, http.StatusOK, grantListResponse{
		Items: revoked,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) purgeGrants(w http.ResponseWriter, r *http.Request, method string) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req purgeGrantsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	stmt := access.PurgeStatement{
		Method:  method,
		Expired: req.Expired,
		Revoked: req.Revoked,
		Grace:   time.Duration(req.GraceSeconds) * time.Second,
	}
	purged, err := a.engine.PurgeGrants(r.Context(), stmt, sess)
	obs.ObserveAccessOp("purge", err)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.grant.purge", map[string]any{
		"method":  method,
		"purged":  len(purged),
		"expired": req.Expired,
		"revoked": req.Revoked,
		"level":   string(sess.Selection.Level),
	})

	writeJSON(w, http.StatusOK, grantListResponse{
		Items: purged,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) authenticate(w http.ResponseWriter, r *http.Request, method string) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req authenticateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	grant, err := a.engine.Authenticate(r.Context(), method, req.Token, sess)
	obs.ObserveAccessOp("authenticate", err)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.grant.authenticate", map[string]any{
		"method": method,
		"grant":  grant.ID,
		"level":  string(sess.Selection.Level),
	})

	writeJSON(w, http.StatusOK, grant)
}

type defineAccessMethodRequest struct {
	Name              string `json:"name"`
	Kind              string `json:"kind"`
	GrantDurationSecs int64  `json:"grant_duration_secs"`
	Bearer            *struct {
		Kind    string `json:"kind"`
		Subject string `json:"subject"`
	} `json:"bearer,omitempty"`
}

func (a *API) handleDefineAccessMethod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req defineAccessMethodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ac := access.AccessMethod{
		Name:          strings.TrimSpace(req.Name),
		Kind:          access.MethodKind(req.Kind),
		GrantDuration: time.Duration(req.GrantDurationSecs) * time.Second,
	}
	if req.Bearer != nil {
		ac.Bearer = &access.BearerConfig{
			Kind:    access.BearerKind(req.Bearer.Kind),
			Subject: access.SubjectKind(req.Bearer.Subject),
		}
	}
	if err := a.engine.DefineAccessMethod(r.Context(), "", ac, sess); err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.method.define", map[string]any{
		"method": ac.Name,
		"kind":   string(ac.Kind),
		"level":  string(sess.Selection.Level),
	})

	writeJSON(w, http.StatusCreated, ac)
}

type defineUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (a *API) handleDefineUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req defineUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user := access.User{
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	}
	if err := a.engine.DefineUser(r.Context(), "", user, sess); err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.user.define", map[string]any{
		"user":  user.Name,
		"level": string(sess.Selection.Level),
	})

	writeJSON(w, http.StatusCreated, map[string]any{"name": user.Name})
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidSubject),
		errors.Is(err, access.ErrLevelMismatch),
		errors.Is(err, access.ErrMethodMismatch),
		errors.Is(err, access.ErrInvalidStatement):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, access.ErrDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrCollision),
		errors.Is(err, access.ErrAlreadyRevoked),
		errors.Is(err, access.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrUnimplemented):
		writeError(w, r, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
