// Package httpapi exposes the core service over JSON HTTP for request
// handlers and operational tooling. Authentication is delegated to the
// fronting proxy; the acting principal arrives in headers.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"recordcore/internal/core"
)

// Header names carrying the acting principal.
const (
	HeaderUser      = "X-Recordcore-User"
	HeaderSession   = "X-Recordcore-Session"
	HeaderRunAs     = "X-Recordcore-Run-As"
	HeaderIncognito = "X-Recordcore-Incognito"
)

// Handler routes HTTP requests to the core service.
type Handler struct {
	service *core.Service
	router  *mux.Router
}

// NewHandler constructs the HTTP adapter over the service.
func NewHandler(service *core.Service) *Handler {
	h := &Handler{service: service, router: mux.NewRouter()}
	h.routes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	api := h.router.PathPrefix("/api/v1").Subrouter()

	api.Methods(http.MethodPost).Path("/sessions").HandlerFunc(h.handleAddSession)
	api.Methods(http.MethodDelete).Path("/sessions/{username}").HandlerFunc(h.handleRemoveSession)

	api.Methods(http.MethodPost).Path("/users").HandlerFunc(h.handleCreateUser)
	api.Methods(http.MethodPut).Path("/users/{username}/role").HandlerFunc(h.handleSetGlobalRole)

	api.Methods(http.MethodPost).Path("/groups").HandlerFunc(h.handleCreateGroup)
	api.Methods(http.MethodDelete).Path("/groups/{id}").HandlerFunc(h.handleDeleteGroup)
	api.Methods(http.MethodPost).Path("/groups/{id}/members").HandlerFunc(h.handleAddMember)
	api.Methods(http.MethodDelete).Path("/groups/{id}/members/{username}").HandlerFunc(h.handleRemoveMember)
	api.Methods(http.MethodPut).Path("/groups/{id}/members/{username}/role").HandlerFunc(h.handleSetGroupRole)
	api.Methods(http.MethodPut).Path("/groups/{id}/autoshare").HandlerFunc(h.handleGroupAutoshare)
	api.Methods(http.MethodPut).Path("/groups/{id}/autoshare/{username}").HandlerFunc(h.handleUserAutoshare)

	api.Methods(http.MethodPost).Path("/records").HandlerFunc(h.handleCreateRecord)
	api.Methods(http.MethodDelete).Path("/records/{id}").HandlerFunc(h.handleDeleteRecord)
	api.Methods(http.MethodPost).Path("/records/{id}/edit").HandlerFunc(h.handleRequestEdit)
	api.Methods(http.MethodPost).Path("/records/{id}/unlock").HandlerFunc(h.handleUnlock)
	api.Methods(http.MethodGet).Path("/records/{id}/editor").HandlerFunc(h.handleCurrentEditor)
	api.Methods(http.MethodGet).Path("/records/{id}/permitted").HandlerFunc(h.handleIsPermitted)
	api.Methods(http.MethodPost).Path("/records/{id}/share").HandlerFunc(h.handleShare)
	api.Methods(http.MethodPost).Path("/records/{id}/notebook").HandlerFunc(h.handleShareIntoNotebook)

	api.Methods(http.MethodPut).Path("/grants/{id}").HandlerFunc(h.handleUpdatePermission)
	api.Methods(http.MethodDelete).Path("/grants/{id}").HandlerFunc(h.handleUnshare)

	api.Methods(http.MethodPut).Path("/properties/{name}").HandlerFunc(h.handleSetProperty)
}

func principalFrom(r *http.Request) core.Principal {
	return core.Principal{
		Username:  r.Header.Get(HeaderUser),
		SessionID: r.Header.Get(HeaderSession),
		RunAs:     r.Header.Get(HeaderRunAs),
		Incognito: r.Header.Get(HeaderIncognito) == "true",
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeServiceError maps core error types to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var denied core.DeniedError
	var invalid core.InvalidStateError
	var disabled core.PolicyDisabledError
	var notFound core.NotFoundError
	switch {
	case errors.As(err, &denied), errors.As(err, &notFound):
		// Denials and missing ids produce byte-identical responses so an
		// unauthorized caller cannot probe for existence.
		writeError(w, http.StatusForbidden, "access denied")
	case errors.As(err, &disabled):
		writeError(w, http.StatusForbidden, disabled.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) handleAddSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		SessionID string `json:"session_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	id := h.service.AddSession(req.Username, req.SessionID)
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": id})
}

func (h *Handler) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	h.service.RemoveSession(mux.Vars(r)["username"])
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var user core.User
	if err := decode(r, &user); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateUser(r.Context(), principalFrom(r), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": created})
}

func (h *Handler) handleSetGlobalRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role core.GlobalRole `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.service.SetGlobalRole(r.Context(), principalFrom(r), mux.Vars(r)["username"], req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": updated})
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var group core.Group
	if err := decode(r, &group); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateGroup(r.Context(), principalFrom(r), group)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"group": created})
}

func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteGroup(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var member core.GroupMember
	if err := decode(r, &member); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.service.AddMember(r.Context(), principalFrom(r), mux.Vars(r)["id"], member)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": updated})
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	updated, err := h.service.RemoveMember(r.Context(), principalFrom(r), vars["id"], vars["username"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": updated})
}

func (h *Handler) handleSetGroupRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role    core.GroupRole `json:"role"`
		ViewAll bool           `json:"view_all"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vars := mux.Vars(r)
	updated, err := h.service.SetGroupRole(r.Context(), principalFrom(r), vars["id"], vars["username"], req.Role, req.ViewAll)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": updated})
}

func (h *Handler) handleGroupAutoshare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.service.SetGroupAutoshare(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.Enabled)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": updated})
}

func (h *Handler) handleUserAutoshare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled    bool   `json:"enabled"`
		FolderName string `json:"folder_name"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vars := mux.Vars(r)
	membership, err := h.service.SetUserAutoshare(r.Context(), principalFrom(r), vars["id"], vars["username"], req.Enabled, req.FolderName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"membership": membership})
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var rec core.Record
	if err := decode(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateRecord(r.Context(), principalFrom(r), rec)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"record": created})
}

func (h *Handler) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRecord(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRequestEdit(w http.ResponseWriter, r *http.Request) {
	status := h.service.RequestEdit(r.Context(), principalFrom(r), mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	h.service.Unlock(principalFrom(r), mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrentEditor(w http.ResponseWriter, r *http.Request) {
	editor, ok := h.service.CurrentEditor(principalFrom(r), mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"editor": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"editor": editor})
}

func (h *Handler) handleIsPermitted(w http.ResponseWriter, r *http.Request) {
	op := core.Operation(r.URL.Query().Get("op"))
	if op == "" {
		writeError(w, http.StatusBadRequest, "op query parameter required")
		return
	}
	d := h.service.Decide(principalFrom(r), mux.Vars(r)["id"], op)
	writeJSON(w, http.StatusOK, map[string]any{"allowed": d.Allowed, "reason": d.Reason})
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Grants []core.GrantSpec `json:"grants"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.service.Share(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.Grants)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shared_ids":   result.SharedIDs,
		"public_links": result.PublicLinks,
		"errors":       msgs,
	})
}

func (h *Handler) handleShareIntoNotebook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NotebookID string `json:"notebook_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.service.ShareIntoNotebook(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.NotebookID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": updated})
}

func (h *Handler) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level core.PermissionLevel `json:"level"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.service.UpdatePermission(r.Context(), principalFrom(r), mux.Vars(r)["id"], req.Level)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grant": updated})
}

func (h *Handler) handleUnshare(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unshare(r.Context(), principalFrom(r), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value core.PropertyValue `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.SetSystemProperty(r.Context(), principalFrom(r), mux.Vars(r)["name"], req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
