package restapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/asfadmin/grfn-distribution/logging"
	"github.com/asfadmin/grfn-distribution/service"
)

const DefaultServerAddress = "0.0.0.0:8080"

// Server exposes the status-display and restore-trigger surfaces consumed by
// the download portal.
type Server struct {
	httpAddress string
	restoreSvc  service.Restore
	httpServer  *http.Server
}

func NewServer(restoreSvc service.Restore, address string) *Server {
	if address == "" {
		address = DefaultServerAddress
	}
	return &Server{
		httpAddress: address,
		restoreSvc:  restoreSvc,
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(s.handleHealth)
	router.Path("/users/{user_id}/status").Methods(http.MethodGet).HandlerFunc(s.handleGetStatus)
	router.Path("/users/{user_id}/subscription").Methods(http.MethodGet).HandlerFunc(s.handleGetSubscription)
	router.Path("/users/{user_id}/subscription").Methods(http.MethodPut).HandlerFunc(s.handleUpdateSubscription)
	router.Path("/restore").Methods(http.MethodPost).HandlerFunc(s.handleRequestObject)
	return router
}

func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.httpAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil {
			logging.Logger.Errorf("failed to start rest server, err=%s", err.Error())
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	userId := mux.Vars(r)["user_id"]
	status, err := s.restoreSvc.GetStatus(userId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userId := mux.Vars(r)["user_id"]
	subscribed, err := s.restoreSvc.GetSubscription(userId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"subscribed_to_emails": subscribed})
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	userId := mux.Vars(r)["user_id"]
	var body struct {
		SubscribedToEmails bool `json:"subscribed_to_emails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.restoreSvc.UpdateSubscription(userId, body.SubscribedToEmails); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"subscribed_to_emails": body.SubscribedToEmails})
}

func (s *Server) handleRequestObject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ObjectKey string `json:"object_key"`
		UserID    string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ObjectKey == "" || body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "object_key and user_id are required"})
		return
	}
	available, err := s.restoreSvc.RequestObject(r.Context(), body.ObjectKey, body.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func writeError(w http.ResponseWriter, err error) {
	if svcErr, ok := err.(service.Err); ok {
		writeJSON(w, int(svcErr.Code), map[string]string{"error": svcErr.Message})
		return
	}
	logging.Logger.Errorf("request failed, err=%s", err.Error())
	writeJSON(w, int(service.ErrInternal.Code), map[string]string{"error": service.ErrInternal.Message})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Logger.Errorf("failed to write response, err=%s", err.Error())
	}
}
