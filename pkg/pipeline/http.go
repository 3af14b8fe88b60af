package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
	"github.com/healthguard-ai/platform/pkg/inference"
)

const maxMediaBytes = 10 << 20

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/patients", h.handleCreatePatient).Methods(http.MethodPost)
	router.HandleFunc("/patients", h.handleListPatients).Methods(http.MethodGet)
	router.HandleFunc("/signals", h.handleSubmitSignal).Methods(http.MethodPost)
	router.HandleFunc("/patients/{id}/media/{type}", h.handleSubmitMedia).Methods(http.MethodPost)
	router.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var p models.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := h.service.CreatePatient(r.Context(), &p)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ListPatientIDs(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patients": ids})
}

func (h *HTTPHandler) handleSubmitSignal(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	verdict, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (h *HTTPHandler) handleSubmitMedia(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mediaType := vars["type"]
	if mediaType != inference.MediaPhoto && mediaType != inference.MediaVoice {
		writeError(w, http.StatusBadRequest, "media type must be photo or voice")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxMediaBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read media payload")
		return
	}

	_, err = h.service.SubmitMedia(r.Context(), vars["id"], mediaType, payload)
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, verr)
		return
	}
	if err != nil {
		// The autonomous loop owns eventual correctness; analysis
		// failures are not surfaced beyond the acknowledgment.
		logger.Log.WithError(err).Warn("media processing failed")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted, processing"})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Status(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) writeFailure(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, verr)
		return
	}
	logger.Log.WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
