package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/models"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/store"

	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	createFn       func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error)
	getTicketFn    func(ctx context.Context, ticketID int64) (models.Ticket, error)
	callNextFn     func(ctx context.Context, input store.CallNextInput) (store.CallResult, error)
	recallFn       func(ctx context.Context, input store.RecallInput) (models.Ticket, error)
	callCustomFn   func(ctx context.Context, input store.CustomCallInput) (models.Ticket, error)
	listPendingFn  func(ctx context.Context, patientClass string) ([]models.Ticket, error)
	displayQueueFn func(ctx context.Context, limit int) ([]models.Ticket, error)
	lastCallFn     func(ctx context.Context) (models.Ticket, bool, error)
	eventsFn       func(ctx context.Context, after time.Time, afterID string, limit int) ([]store.CallEvent, error)
	statsFn        func(ctx context.Context) (store.QueueStats, error)
	purgeFn        func(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	if f.createFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
	if f.callNextFn == nil {
		return store.CallResult{}, store.ErrNoTicket
	}
	return f.callNextFn(ctx, input)
}

func (f fakeStore) Recall(ctx context.Context, input store.RecallInput) (models.Ticket, error) {
	if f.recallFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.recallFn(ctx, input)
}

func (f fakeStore) CallCustom(ctx context.Context, input store.CustomCallInput) (models.Ticket, error) {
	if f.callCustomFn == nil {
		return models.Ticket{}, nil
	}
	return f.callCustomFn(ctx, input)
}

func (f fakeStore) ListPending(ctx context.Context, patientClass string) ([]models.Ticket, error) {
	if f.listPendingFn == nil {
		return nil, nil
	}
	return f.listPendingFn(ctx, patientClass)
}

func (f fakeStore) ListDisplayQueue(ctx context.Context, limit int) ([]models.Ticket, error) {
	if f.displayQueueFn == nil {
		return nil, nil
	}
	return f.displayQueueFn(ctx, limit)
}

func (f fakeStore) LastCall(ctx context.Context) (models.Ticket, bool, error) {
	if f.lastCallFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.lastCallFn(ctx)
}

func (f fakeStore) ListCallEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.CallEvent, error) {
	if f.eventsFn == nil {
		return nil, nil
	}
	return f.eventsFn(ctx, after, afterID, limit)
}

func (f fakeStore) Stats(ctx context.Context) (store.QueueStats, error) {
	if f.statsFn == nil {
		return store.QueueStats{}, nil
	}
	return f.statsFn(ctx)
}

func (f fakeStore) PurgeCalledBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if f.purgeFn == nil {
		return 0, nil
	}
	return f.purgeFn(ctx, cutoff, batchSize)
}

type fakeConfigStore struct {
	getPriorityFn    func(ctx context.Context) (models.PriorityConfig, error)
	updatePriorityFn func(ctx context.Context, updates map[string]any) (models.PriorityConfig, []store.FieldError, error)
	getDisplayFn     func(ctx context.Context) (models.DisplaySettings, error)
	updateDisplayFn  func(ctx context.Context, settings models.DisplaySettings) (models.DisplaySettings, error)
}

func (f fakeConfigStore) GetPriorityConfig(ctx context.Context) (models.PriorityConfig, error) {
	if f.getPriorityFn == nil {
		return models.DefaultPriorityConfig(), nil
	}
	return f.getPriorityFn(ctx)
}

func (f fakeConfigStore) UpdatePriorityConfig(ctx context.Context, updates map[string]any) (models.PriorityConfig, []store.FieldError, error) {
	if f.updatePriorityFn == nil {
		return models.DefaultPriorityConfig(), nil, nil
	}
	return f.updatePriorityFn(ctx, updates)
}

func (f fakeConfigStore) GetDisplaySettings(ctx context.Context) (models.DisplaySettings, error) {
	if f.getDisplayFn == nil {
		return models.DefaultDisplaySettings(), nil
	}
	return f.getDisplayFn(ctx)
}

func (f fakeConfigStore) UpdateDisplaySettings(ctx context.Context, settings models.DisplaySettings) (models.DisplaySettings, error) {
	if f.updateDisplayFn == nil {
		return settings, nil
	}
	return f.updateDisplayFn(ctx, settings)
}

type recordingPrinter struct {
	labels []string
	err    error
}

func (p *recordingPrinter) PrintTicket(ctx context.Context, displayLabel string) error {
	if p.err != nil {
		return p.err
	}
	p.labels = append(p.labels, displayLabel)
	return nil
}

type fakeSynthesizer struct {
	audio []byte
	err   error
}

func (f fakeSynthesizer) Synthesize(ctx context.Context, text, voiceName string) ([]byte, error) {
	return f.audio, f.err
}

func newTestHandler(tickets store.TicketStore, config store.ConfigStore, options Options) *Handler {
	return NewHandler(tickets, config, &recordingPrinter{}, fakeSynthesizer{}, options)
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestCreateTicket(t *testing.T) {
	var gotInput store.CreateTicketInput
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
			gotInput = input
			ticket := models.Ticket{ID: 1, SequenceNumber: 7, CategoryCode: models.CategoryNormalFirst, PatientClass: models.ClassNormal, FirstVisit: true, IssuedAt: input.IssuedAt}
			if input.Confirm != nil {
				if err := input.Confirm(ticket); err != nil {
					return models.Ticket{}, false, err
				}
			}
			return ticket, true, nil
		},
	}
	printer := &recordingPrinter{}
	handler := NewHandler(st, fakeConfigStore{}, printer, fakeSynthesizer{}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tickets", map[string]any{
		"request_id":    "req-1",
		"patient_class": "normal",
		"first_visit":   true,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		DisplayLabel string `json:"display_label"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DisplayLabel != "NP0007" {
		t.Fatalf("expected label NP0007, got %q", resp.DisplayLabel)
	}
	if gotInput.RequestID != "req-1" {
		t.Fatalf("expected request id passed through, got %q", gotInput.RequestID)
	}
	if len(printer.labels) != 1 || printer.labels[0] != "NP0007" {
		t.Fatalf("expected ticket printed, got %v", printer.labels)
	}
}

func TestCreateTicketInvalidClass(t *testing.T) {
	handler := newTestHandler(fakeStore{}, fakeConfigStore{}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tickets", map[string]any{
		"patient_class": "vip",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "invalid_class") {
		t.Fatalf("expected invalid_class error, got %s", recorder.Body.String())
	}
}

func TestCreateTicketPrintFailure(t *testing.T) {
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
			return models.Ticket{}, false, store.ErrPrintFailed
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tickets", map[string]any{
		"patient_class": "normal",
	})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "print_failed") {
		t.Fatalf("expected print_failed error, got %s", recorder.Body.String())
	}
}

func TestCallNextAnnouncement(t *testing.T) {
	counter := "5"
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
			calledAt := input.CalledAt
			ticket := models.Ticket{
				ID:             3,
				SequenceNumber: 7,
				CategoryCode:   models.CategoryNormalFirst,
				PatientClass:   models.ClassNormal,
				IsCalled:       true,
				CalledAt:       &calledAt,
				CounterLabel:   &input.CounterLabel,
			}
			return store.CallResult{Ticket: ticket, Streak: input.Streak + 1}, nil
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tickets/actions/call-next", map[string]any{
		"operator_id":   "op-1",
		"counter_label": counter,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Announcement string `json:"announcement"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := "Senha N P 0 0 0 7, dirija-se ao guichê 5"
	if resp.Announcement != want {
		t.Fatalf("announcement %q, want %q", resp.Announcement, want)
	}
}

func TestCallNextThreadsStreakThroughSession(t *testing.T) {
	var streaks []int
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
			streaks = append(streaks, input.Streak)
			return store.CallResult{
				Ticket: models.Ticket{ID: int64(len(streaks)), SequenceNumber: len(streaks), CategoryCode: models.CategoryNormalFirst, PatientClass: models.ClassNormal},
				Streak: input.Streak + 1,
			}, nil
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})
	routes := handler.Routes()

	for i := 0; i < 3; i++ {
		recorder := postJSON(t, routes, "/api/tickets/actions/call-next", map[string]any{
			"operator_id":   "op-1",
			"counter_label": "2",
		})
		if recorder.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, recorder.Code)
		}
	}

	want := []int{0, 1, 2}
	for i := range want {
		if streaks[i] != want[i] {
			t.Fatalf("streak sequence %v, want %v", streaks, want)
		}
	}
}

func TestCallNextStickyCounter(t *testing.T) {
	var counters []string
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
			counters = append(counters, input.CounterLabel)
			return store.CallResult{Ticket: models.Ticket{ID: 1, SequenceNumber: 1, CategoryCode: models.CategoryNormalFirst}}, nil
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})
	routes := handler.Routes()

	recorder := postJSON(t, routes, "/api/tickets/actions/call-next", map[string]any{
		"operator_id":   "op-1",
		"counter_label": "3",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	// Second call omits the counter and reuses the session's.
	recorder = postJSON(t, routes, "/api/tickets/actions/call-next", map[string]any{
		"operator_id": "op-1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if len(counters) != 2 || counters[1] != "3" {
		t.Fatalf("expected sticky counter 3, got %v", counters)
	}
}

func TestCallNextQueueEmpty(t *testing.T) {
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
			return store.CallResult{Streak: input.Streak}, store.ErrNoTicket
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tickets/actions/call-next", map[string]any{
		"operator_id":   "op-1",
		"counter_label": "1",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "queue_empty") {
		t.Fatalf("expected queue_empty error, got %s", recorder.Body.String())
	}
}

func TestCallNextMissingCounter(t *testing.T) {
	handler := newTestHandler(fakeStore{}, fakeConfigStore{}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tickets/actions/call-next", map[string]any{
		"operator_id": "op-1",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestRecall(t *testing.T) {
	st := fakeStore{
		recallFn: func(ctx context.Context, input store.RecallInput) (models.Ticket, error) {
			if input.TicketID != 42 {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{ID: 42, SequenceNumber: 1, CategoryCode: models.CategoryPriorityFirst, PatientClass: models.ClassPriority, IsCalled: true}, nil
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})
	routes := handler.Routes()

	recorder := postJSON(t, routes, "/api/tickets/42/actions/recall", map[string]any{
		"operator_id":   "op-1",
		"counter_label": "4",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Announcement string `json:"announcement"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Announcement != "Senha P P 0 0 0 1, dirija-se ao guichê 4" {
		t.Fatalf("unexpected announcement %q", resp.Announcement)
	}

	recorder = postJSON(t, routes, "/api/tickets/9/actions/recall", map[string]any{
		"operator_id":   "op-1",
		"counter_label": "4",
	})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestCallCustomVerbatimAnnouncement(t *testing.T) {
	st := fakeStore{
		callCustomFn: func(ctx context.Context, input store.CustomCallInput) (models.Ticket, error) {
			calledAt := input.CalledAt
			return models.Ticket{
				ID:           9,
				CategoryCode: input.Text,
				PatientClass: models.ClassNormal,
				IsCalled:     true,
				CalledAt:     &calledAt,
				CounterLabel: &input.CounterLabel,
			}, nil
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tickets/actions/call-custom", map[string]any{
		"text":          "DOUTOR CARLOS",
		"operator_id":   "op-1",
		"counter_label": "2",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Announcement string `json:"announcement"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Announcement != "DOUTOR CARLOS, dirija-se ao guichê 2" {
		t.Fatalf("unexpected announcement %q", resp.Announcement)
	}
}

func TestUpdatePriorityConfigReportsFieldErrors(t *testing.T) {
	config := fakeConfigStore{
		updatePriorityFn: func(ctx context.Context, updates map[string]any) (models.PriorityConfig, []store.FieldError, error) {
			cfg := models.DefaultPriorityConfig()
			cfg.Policy = models.PolicyWeighted
			return cfg, []store.FieldError{{Field: "bogus", Message: "unknown field"}}, nil
		},
	}
	handler := newTestHandler(fakeStore{}, config, Options{})

	body := bytes.NewReader([]byte(`{"policy":"weighted","bogus":1}`))
	req := httptest.NewRequest(http.MethodPut, "/api/config/priority", body)
	recorder := httptest.NewRecorder()
	handler.Routes().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Config models.PriorityConfig `json:"config"`
		Errors []store.FieldError    `json:"errors"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Config.Policy != models.PolicyWeighted {
		t.Fatalf("expected weighted policy, got %s", resp.Config.Policy)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Field != "bogus" {
		t.Fatalf("unexpected errors %v", resp.Errors)
	}
}

func TestPriorityConfigAdminGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	handler := newTestHandler(fakeStore{}, fakeConfigStore{}, Options{AdminTokenHash: string(hash)})
	routes := handler.Routes()

	req := httptest.NewRequest(http.MethodPut, "/api/config/priority", strings.NewReader(`{"policy":"weighted"}`))
	recorder := httptest.NewRecorder()
	routes.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/config/priority", strings.NewReader(`{"policy":"weighted"}`))
	req.Header.Set("Authorization", "Bearer wrong-token")
	recorder = httptest.NewRecorder()
	routes.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong token, got %d", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/config/priority", strings.NewReader(`{"policy":"weighted"}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	recorder = httptest.NewRecorder()
	routes.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Reads stay open.
	req = httptest.NewRequest(http.MethodGet, "/api/config/priority", nil)
	recorder = httptest.NewRecorder()
	routes.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for read, got %d", recorder.Code)
	}
}

func TestGetTicket(t *testing.T) {
	st := fakeStore{
		getTicketFn: func(ctx context.Context, ticketID int64) (models.Ticket, error) {
			if ticketID != 5 {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{ID: 5, SequenceNumber: 2, CategoryCode: models.CategoryNormalReturn, PatientClass: models.ClassNormal}, nil
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})
	routes := handler.Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/5", nil)
	recorder := httptest.NewRecorder()
	routes.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp struct {
		DisplayLabel string `json:"display_label"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DisplayLabel != "NR0002" {
		t.Fatalf("expected NR0002, got %q", resp.DisplayLabel)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tickets/6", nil)
	recorder = httptest.NewRecorder()
	routes.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestLastCallEmpty(t *testing.T) {
	handler := newTestHandler(fakeStore{}, fakeConfigStore{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/calls/last", nil)
	recorder := httptest.NewRecorder()
	handler.Routes().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestTTS(t *testing.T) {
	handler := NewHandler(fakeStore{}, fakeConfigStore{}, &recordingPrinter{}, fakeSynthesizer{audio: []byte("mp3-bytes")}, Options{})

	recorder := postJSON(t, handler.Routes(), "/api/tts", map[string]any{
		"text": "Senha N P 0 0 0 1, dirija-se ao guichê 2",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", got)
	}
	if recorder.Body.String() != "mp3-bytes" {
		t.Fatalf("unexpected body %q", recorder.Body.String())
	}

	// A synthesizer with no audio backend yields no content.
	handler = newTestHandler(fakeStore{}, fakeConfigStore{}, Options{})
	recorder = postJSON(t, handler.Routes(), "/api/tts", map[string]any{"text": "BEM VINDO"})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestStats(t *testing.T) {
	st := fakeStore{
		statsFn: func(ctx context.Context) (store.QueueStats, error) {
			return store.QueueStats{WaitingNormal: 4, WaitingPriority: 1, CalledToday: 12, AvgWaitMinutes: 6.5}, nil
		},
	}
	handler := newTestHandler(st, fakeConfigStore{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	recorder := httptest.NewRecorder()
	handler.Routes().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var stats store.QueueStats
	if err := json.Unmarshal(recorder.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.WaitingNormal != 4 || stats.CalledToday != 12 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
