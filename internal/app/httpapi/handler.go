// Package httpapi exposes the registry over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/cuidalink/service-registry/internal/app"
	"github.com/cuidalink/service-registry/internal/app/metrics"
	"github.com/cuidalink/service-registry/internal/app/registry"
)

// handler bundles HTTP endpoints for the registry.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the registry REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/services", h.createService).Methods(http.MethodPost)
	r.HandleFunc("/services/next-id", h.nextID).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}", h.getService).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}/owner", h.ownerOf).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}/state", h.getState).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}/rating", h.getRating).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}/companion", h.getCompanion).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}/uri", h.getURI).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}/evidence", h.getEvidenceOf).Methods(http.MethodGet)
	r.HandleFunc("/services/{id:[0-9]+}/companion", h.assignCompanion).Methods(http.MethodPost)
	r.HandleFunc("/services/{id:[0-9]+}/state", h.changeState).Methods(http.MethodPost)
	r.HandleFunc("/services/{id:[0-9]+}/pay", h.markPaid).Methods(http.MethodPost)
	r.HandleFunc("/services/{id:[0-9]+}/finalize", h.finalizeService).Methods(http.MethodPost)
	r.HandleFunc("/services/{id:[0-9]+}/events", h.tokenEvents).Methods(http.MethodGet)

	r.HandleFunc("/wallets/{owner}/services", h.listByOwner).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{owner}/stats", h.statsByOwner).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{owner}/balance", h.balanceOf).Methods(http.MethodGet)

	r.HandleFunc("/uris", h.listStateURIs).Methods(http.MethodGet)
	r.HandleFunc("/uris/{state:[0-9]+}", h.configureStateURI).Methods(http.MethodPut)

	r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"variant": string(h.app.Registry.Variant()),
	})
}

func (h *handler) createService(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Recipient string `json:"recipient"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tok, err := h.app.Registry.CreateService(r.Context(), payload.Recipient)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (h *handler) nextID(w http.ResponseWriter, r *http.Request) {
	id, err := h.app.Registry.NextID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"next_id": id})
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tok, err := h.app.Registry.GetService(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *handler) ownerOf(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	owner, err := h.app.Registry.OwnerOf(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner})
}

func (h *handler) getState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := h.app.Registry.State(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": st,
		"name":  h.app.Registry.Variant().Name(st),
	})
}

func (h *handler) getRating(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rating, err := h.app.Registry.Rating(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rating": rating})
}

func (h *handler) getCompanion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	companion, err := h.app.Registry.Companion(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"companion": companion})
}

func (h *handler) getURI(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	uri, err := h.app.Registry.URI(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

func (h *handler) getEvidenceOf(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	evidenceID, err := h.app.Registry.EvidenceOf(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"evidence_of": evidenceID})
}

func (h *handler) assignCompanion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Companion string `json:"companion"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tok, err := h.app.Registry.AssignCompanion(r.Context(), id, payload.Companion)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *handler) changeState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		State  int `json:"state"`
		Rating int `json:"rating"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target, err := h.app.Registry.Variant().ParseState(payload.State)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	tok, err := h.app.Registry.ChangeState(r.Context(), id, target, payload.Rating)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *handler) markPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tok, err := h.app.Registry.MarkPaid(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *handler) finalizeService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tok, err := h.app.Registry.FinalizeService(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *handler) tokenEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.app.Events.RecentByToken(id, queryLimit(r)))
}

func (h *handler) listByOwner(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	owned, err := h.app.Registry.ListByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, owned)
}

func (h *handler) statsByOwner(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	stats, err := h.app.Registry.StatsByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) balanceOf(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	balance, err := h.app.Ledger.BalanceOf(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (h *handler) listStateURIs(w http.ResponseWriter, r *http.Request) {
	uris, err := h.app.Registry.StateURIs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make(map[string]string, len(uris))
	for st, uri := range uris {
		out[strconv.Itoa(int(st))] = uri
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) configureStateURI(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["state"]
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := h.app.Registry.Variant().ParseState(n)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	var payload struct {
		URI string `json:"uri"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.app.Registry.ConfigureStateURI(r.Context(), st, payload.URI); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Events.Recent(queryLimit(r)))
}

// Helpers ---------------------------------------------------------------------

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidTransition), errors.Is(err, registry.ErrInvalidRating):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, registry.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeRegistryError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
