package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/healthguard-ai/platform/pkg/common/logger"
)

type HTTPHandler struct {
	log *Log
}

func NewHTTPHandler(log *Log) *HTTPHandler {
	return &HTTPHandler{log: log}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/audit", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/audit/verify", h.handleVerify).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		RecordType: r.URL.Query().Get("type"),
		PatientRef: r.URL.Query().Get("patient"),
	}
	if after := r.URL.Query().Get("after"); after != "" {
		if seq, err := strconv.ParseInt(after, 10, 64); err == nil {
			filter.AfterSeq = seq
		}
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if ts, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = ts
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	records, err := h.log.Read(r.Context(), filter)
	if err != nil {
		logger.Log.WithError(err).Error("failed to read audit log")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (h *HTTPHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	badSeq, err := h.log.Verify(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"intact":        false,
			"first_bad_seq": badSeq,
			"detail":        err.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"intact": true})
}
