package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/audit"
	"github.com/example/ride-dispatch/internal/bulk"
	"github.com/example/ride-dispatch/internal/claims"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/store"
)

// Publisher is the optional event-stream hook; nil disables publishing.
type Publisher interface {
	PublishRideEvent(event models.RideEvent) error
}

type Server struct {
	Claims    *claims.Service
	Store     store.Store
	Bulk      *bulk.Service
	Registry  *notify.WSRegistry
	Notifier  notify.Notifier
	Events    Publisher
	Audit     audit.Recorder
	Directory *directory.Directory

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(cl *claims.Service, st store.Store, bk *bulk.Service, reg *notify.WSRegistry, notifier notify.Notifier, events Publisher, rec audit.Recorder, dir *directory.Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	s := &Server{
		Claims:    cl,
		Store:     st,
		Bulk:      bk,
		Registry:  reg,
		Notifier:  notifier,
		Events:    events,
		Audit:     rec,
		Directory: dir,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/{id}/claim", s.handleClaim).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/undo", s.handleUndo).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/promote", s.handlePromote).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{collection}", s.handleList).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{collection}/bulk-delete", s.handleBulkDelete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{collection}/restore", s.handleRestore).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{email}", s.handleDriver).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// rideCollections gates list/bulk endpoints to the three ride collections.
func (s *Server) rideCollections() map[string]string {
	c := s.Claims.Collections
	return map[string]string{
		"rideQueue":    c.Queue,
		"liveRides":    c.Live,
		"claimedRides": c.Claimed,
	}
}

type claimRequest struct {
	User map[string]any `json:"user"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	email := normalize.UserEmail(req.User)
	payload, err := s.Claims.Claim(r.Context(), rideID, req.User)
	s.record(r, "claim", rideID, email, err)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	name := normalize.UserName(req.User, email)
	if name == email && s.Directory != nil {
		name = s.Directory.DisplayName(r.Context(), email)
	}
	event := models.RideEvent{
		Type:       models.EventClaim,
		RideID:     rideID,
		Driver:     email,
		DriverName: name,
		Ride:       payload,
	}
	s.emit(r, event)
	writeJSON(w, http.StatusOK, normalize.Ride(rideID, payload))
}

type undoRequest struct {
	User          map[string]any `json:"user"`
	SkipUserCheck bool           `json:"skipUserCheck"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	var req undoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	email := normalize.UserEmail(req.User)
	payload, err := s.Claims.UndoClaim(r.Context(), rideID, req.User, claims.UndoOptions{SkipUserCheck: req.SkipUserCheck})
	s.record(r, "undo", rideID, email, err)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	s.emit(r, models.RideEvent{Type: models.EventUndo, RideID: rideID, Driver: email, Ride: payload})
	writeJSON(w, http.StatusOK, normalize.Ride(rideID, payload))
}

type promoteRequest struct {
	UserID  string `json:"userId"`
	QueueID string `json:"queueId"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := s.Claims.MoveQueuedToOpen(r.Context(), rideID, claims.MoveOptions{UserID: req.UserID, QueueID: req.QueueID})
	s.record(r, "promote", rideID, req.UserID, err)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	s.emit(r, models.RideEvent{Type: models.EventPromote, RideID: rideID, Driver: req.UserID, Ride: payload})
	writeJSON(w, http.StatusOK, normalize.Ride(rideID, payload))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.rideCollections()[mux.Vars(r)["collection"]]
	if !ok {
		http.Error(w, "unknown collection", http.StatusNotFound)
		return
	}
	docs, err := s.Store.List(r.Context(), collection)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, normalize.Rides(docs))
}

type bulkDeleteRequest struct {
	IDs     []string `json:"ids"`
	Confirm bool     `json:"confirm"`
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.rideCollections()[mux.Vars(r)["collection"]]
	if !ok {
		http.Error(w, "unknown collection", http.StatusNotFound)
		return
	}
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Deletes are destructive and unconfirmed requests are refused; the
	// portal UI only sets confirm after its dialog.
	if !req.Confirm {
		http.Error(w, "confirmation required", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "no ids", http.StatusBadRequest)
		return
	}
	if err := s.Bulk.Delete(r.Context(), collection, req.IDs); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": len(req.IDs)})
}

type restoreRequest struct {
	Rows []struct {
		ID   string         `json:"id"`
		Data map[string]any `json:"data"`
	} `json:"rows"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.rideCollections()[mux.Vars(r)["collection"]]
	if !ok {
		http.Error(w, "unknown collection", http.StatusNotFound)
		return
	}
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows := make([]store.Document, 0, len(req.Rows))
	for _, row := range req.Rows {
		rows = append(rows, store.Document{ID: row.ID, Data: store.Doc(row.Data)})
	}
	if err := s.Bulk.Restore(r.Context(), collection, rows); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": len(rows)})
}

func (s *Server) handleDriver(w http.ResponseWriter, r *http.Request) {
	if s.Directory == nil {
		http.Error(w, "directory disabled", http.StatusNotFound)
		return
	}
	email := mux.Vars(r)["email"]
	record, ok, err := s.Directory.Lookup(r.Context(), email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "driver not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	driver := mux.Vars(r)["driver"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Registry.Add(driver, conn)
}

// emit sequences the best-effort side effects after a successful
// operation. Neither the notifier nor the event stream may fail the
// request; errors are logged and dropped.
func (s *Server) emit(r *http.Request, event models.RideEvent) {
	if s.Notifier != nil {
		_ = s.Notifier.Notify(r.Context(), event)
	}
	if s.Events != nil {
		if err := s.Events.PublishRideEvent(event); err != nil {
			s.logger.Warn("event publish failed", "type", event.Type, "ride_id", event.RideID, "error", err)
		}
	}
}

func (s *Server) record(r *http.Request, action, rideID, actor string, err error) {
	entry := audit.Entry{RideID: rideID, Action: action, Actor: actor, Outcome: "ok"}
	if err != nil {
		entry.Outcome = outcomeOf(err)
		entry.Detail = err.Error()
	}
	if recErr := s.Audit.Record(r.Context(), entry); recErr != nil {
		s.logger.Warn("audit record failed", "action", action, "ride_id", rideID, "error", recErr)
	}
}

func outcomeOf(err error) string {
	switch {
	case claims.IsValidation(err):
		return "validation"
	case claims.IsNotFound(err):
		return "not_found"
	case claims.IsConflict(err):
		return "conflict"
	default:
		return "transport"
	}
}

func (s *Server) writeClaimError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case claims.IsValidation(err):
		status = http.StatusBadRequest
	case claims.IsNotFound(err):
		status = http.StatusNotFound
	case claims.IsConflict(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
