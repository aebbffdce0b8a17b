package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/announce"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/models"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/printer"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/store"
)

type Handler struct {
	tickets  store.TicketStore
	config   store.ConfigStore
	sessions *SessionManager
	printer  printer.Printer
	synth    announce.Synthesizer

	adminTokenHash string
}

type Options struct {
	// AdminTokenHash is a bcrypt hash of the admin token gating config
	// writes. Empty disables the gate.
	AdminTokenHash string
	SessionTTL     time.Duration
}

func NewHandler(tickets store.TicketStore, config store.ConfigStore, ticketPrinter printer.Printer, synth announce.Synthesizer, options Options) *Handler {
	return &Handler{
		tickets:        tickets,
		config:         config,
		sessions:       NewSessionManager(options.SessionTTL),
		printer:        ticketPrinter,
		synth:          synth,
		adminTokenHash: options.AdminTokenHash,
	}
}

// Sessions exposes the operator session manager so main can run the
// idle sweep alongside the other background loops.
func (h *Handler) Sessions() *SessionManager {
	return h.sessions
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/actions/call-custom", h.handleCallCustom)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/display/queue", h.handleDisplayQueue)
	mux.HandleFunc("/api/calls/last", h.handleLastCall)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/config/priority", h.handlePriorityConfig)
	mux.HandleFunc("/api/config/display", h.handleDisplayConfig)
	mux.HandleFunc("/api/tts", h.handleTTS)
	return mux
}

type ticketResponse struct {
	models.Ticket
	DisplayLabel string `json:"display_label"`
	Announcement string `json:"announcement,omitempty"`
}

func ticketPayload(ticket models.Ticket, announcement string) ticketResponse {
	return ticketResponse{
		Ticket:       ticket,
		DisplayLabel: ticket.DisplayLabel(),
		Announcement: announcement,
	}
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createTicketRequest struct {
	RequestID    string `json:"request_id"`
	PatientClass string `json:"patient_class"`
	FirstVisit   bool   `json:"first_visit"`
	SkipPrint    bool   `json:"skip_print"`
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.PatientClass = strings.TrimSpace(req.PatientClass)

	if req.PatientClass != models.ClassNormal && req.PatientClass != models.ClassPriority {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_class", "patient_class must be normal or priority")
		return
	}

	input := store.CreateTicketInput{
		RequestID:    req.RequestID,
		PatientClass: req.PatientClass,
		FirstVisit:   req.FirstVisit,
		IssuedAt:     time.Now().UTC(),
	}
	if !req.SkipPrint {
		input.Confirm = func(ticket models.Ticket) error {
			return h.printer.PrintTicket(r.Context(), ticket.DisplayLabel())
		}
	}

	ticket, created, err := h.tickets.CreateTicket(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, ticketPayload(ticket, ""))
}

type callNextRequest struct {
	OperatorID   string `json:"operator_id"`
	CounterLabel string `json:"counter_label"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.OperatorID = strings.TrimSpace(req.OperatorID)
	req.CounterLabel = strings.TrimSpace(req.CounterLabel)

	if req.OperatorID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "operator_id is required")
		return
	}

	session := h.sessions.Touch(req.OperatorID)
	if req.CounterLabel == "" {
		req.CounterLabel = session.CounterLabel
	}
	if req.CounterLabel == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "counter_label is required")
		return
	}

	result, err := h.tickets.CallNext(r.Context(), store.CallNextInput{
		OperatorID:   req.OperatorID,
		CounterLabel: req.CounterLabel,
		Streak:       session.Streak,
		CalledAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			h.sessions.Update(req.OperatorID, req.CounterLabel, result.Streak)
			writeError(w, "", http.StatusConflict, "queue_empty", "no tickets waiting")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	h.sessions.Update(req.OperatorID, req.CounterLabel, result.Streak)

	phrase := announce.Format(result.Ticket.DisplayLabel(), req.CounterLabel)
	writeJSON(w, http.StatusOK, ticketPayload(result.Ticket, phrase))
}

type callCustomRequest struct {
	Text         string `json:"text"`
	OperatorID   string `json:"operator_id"`
	CounterLabel string `json:"counter_label"`
}

func (h *Handler) handleCallCustom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callCustomRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Text = strings.TrimSpace(req.Text)
	req.OperatorID = strings.TrimSpace(req.OperatorID)
	req.CounterLabel = strings.TrimSpace(req.CounterLabel)

	if req.Text == "" || req.OperatorID == "" || req.CounterLabel == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "text, operator_id, and counter_label are required")
		return
	}

	ticket, err := h.tickets.CallCustom(r.Context(), store.CustomCallInput{
		Text:         req.Text,
		OperatorID:   req.OperatorID,
		CounterLabel: req.CounterLabel,
		CalledAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	// Custom calls park the counter on the operator but leave the
	// interleave streak alone.
	session := h.sessions.Touch(req.OperatorID)
	h.sessions.Update(req.OperatorID, req.CounterLabel, session.Streak)

	phrase := announce.Format(ticket.DisplayLabel(), req.CounterLabel)
	writeJSON(w, http.StatusOK, ticketPayload(ticket, phrase))
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	ticketID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTicket(w, r, ticketID)
		return
	}

	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[2] {
	case "recall":
		h.handleRecall(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID int64) {
	ticket, err := h.tickets.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticketPayload(ticket, ""))
}

type recallRequest struct {
	OperatorID   string `json:"operator_id"`
	CounterLabel string `json:"counter_label"`
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request, ticketID int64) {
	var req recallRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.OperatorID = strings.TrimSpace(req.OperatorID)
	req.CounterLabel = strings.TrimSpace(req.CounterLabel)

	if req.OperatorID == "" || req.CounterLabel == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "operator_id and counter_label are required")
		return
	}

	ticket, err := h.tickets.Recall(r.Context(), store.RecallInput{
		TicketID:     ticketID,
		OperatorID:   req.OperatorID,
		CounterLabel: req.CounterLabel,
		CalledAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	phrase := announce.Format(ticket.DisplayLabel(), req.CounterLabel)
	writeJSON(w, http.StatusOK, ticketPayload(ticket, phrase))
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	class := strings.TrimSpace(r.URL.Query().Get("class"))
	if class != "" && class != models.ClassNormal && class != models.ClassPriority {
		writeError(w, "", http.StatusBadRequest, "invalid_class", "class must be normal or priority")
		return
	}

	tickets, err := h.tickets.ListPending(r.Context(), class)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	payload := make([]ticketResponse, 0, len(tickets))
	for _, ticket := range tickets {
		payload = append(payload, ticketPayload(ticket, ""))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleDisplayQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 15
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	tickets, err := h.tickets.ListDisplayQueue(r.Context(), limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	payload := make([]ticketResponse, 0, len(tickets))
	for _, ticket := range tickets {
		payload = append(payload, ticketPayload(ticket, ""))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleLastCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, found, err := h.tickets.LastCall(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	counter := ""
	if ticket.CounterLabel != nil {
		counter = *ticket.CounterLabel
	}
	writeJSON(w, http.StatusOK, ticketPayload(ticket, announce.Format(ticket.DisplayLabel(), counter)))
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	afterID := strings.TrimSpace(r.URL.Query().Get("after_id"))

	events, err := h.tickets.ListCallEvents(r.Context(), after, afterID, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.tickets.Stats(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handlePriorityConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.config.GetPriorityConfig(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		if !h.requireAdmin(w, r) {
			return
		}
		var updates map[string]any
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		cfg, fieldErrors, err := h.config.UpdatePriorityConfig(r.Context(), updates)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Config models.PriorityConfig `json:"config"`
			Errors []store.FieldError    `json:"errors,omitempty"`
		}{Config: cfg, Errors: fieldErrors})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDisplayConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.config.GetDisplaySettings(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		if !h.requireAdmin(w, r) {
			return
		}
		var settings models.DisplaySettings
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		updated, err := h.config.UpdateDisplaySettings(r.Context(), settings)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// handleTTS synthesizes an announcement phrase and streams the audio back,
// so the display page never needs the speech credentials.
func (h *Handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ttsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		settings, err := h.config.GetDisplaySettings(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		voice = settings.VoiceName
	}

	audio, err := h.synth.Synthesize(r.Context(), req.Text, voice)
	if err != nil {
		writeError(w, "", http.StatusBadGateway, "tts_failed", "speech synthesis failed")
		return
	}
	if len(audio) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusConflict, "queue_empty", "no tickets waiting"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidClass):
		return http.StatusBadRequest, "invalid_class", "patient_class must be normal or priority"
	case errors.Is(err, store.ErrPrintFailed):
		return http.StatusBadGateway, "print_failed", "ticket printing failed, ticket not issued"
	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable, "transient_conflict", "temporary conflict, retry the call"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
