package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/models"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/queue"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool

	mu  sync.Mutex
	rng *rand.Rand
}

type Options struct {
	// Seed fixes the weighted-draw random source; zero seeds from the clock.
	Seed int64
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	seed := options.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Store{
		pool: pool,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

const ticketColumns = `id, sequence_number, category_code, patient_class, first_visit, issued_at, is_called, called_by, called_at, counter_label`

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	category, ok := models.CategoryFor(input.PatientClass, input.FirstVisit)
	if !ok {
		return models.Ticket{}, false, store.ErrInvalidClass
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		existing, found, lookupErr := findTicketByRequestID(ctx, tx, input.RequestID)
		if lookupErr != nil {
			err = lookupErr
			return models.Ticket{}, false, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return existing, false, nil
		}
	}

	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	seq, err := nextDaySequence(ctx, tx, issuedAt)
	if err != nil {
		return models.Ticket{}, false, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (request_id, sequence_number, category_code, patient_class, first_visit, issued_at, is_called)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING `+ticketColumns+`
	`, nullIfEmpty(input.RequestID), seq, category, input.PatientClass, input.FirstVisit, issuedAt)

	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if input.Confirm != nil {
		if confirmErr := input.Confirm(ticket); confirmErr != nil {
			err = fmt.Errorf("%w: %v", store.ErrPrintFailed, confirmErr)
			return models.Ticket{}, false, err
		}
	}

	if err = insertCallEvent(ctx, tx, "ticket.created", ticket); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// CallNext runs selection and assignment as one transaction. The pending
// working set is read FOR UPDATE, so a second concurrent caller blocks until
// this one commits and then re-evaluates against the updated queue. A
// transient serialization failure gets one retry before surfacing.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
	result, err := s.callNextOnce(ctx, input)
	if err != nil && isSerializationFailure(err) {
		result, err = s.callNextOnce(ctx, input)
		if err != nil && isSerializationFailure(err) {
			return store.CallResult{}, fmt.Errorf("%w: %v", store.ErrTransient, err)
		}
	}
	return result, err
}

func (s *Store) callNextOnce(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CallResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	cfg, err := getPriorityConfigTx(ctx, tx)
	if err != nil {
		return store.CallResult{}, err
	}

	pendingNormal, err := lockPending(ctx, tx, models.ClassNormal)
	if err != nil {
		return store.CallResult{}, err
	}
	pendingPriority, err := lockPending(ctx, tx, models.ClassPriority)
	if err != nil {
		return store.CallResult{}, err
	}

	lastPriorityCall, err := lastPriorityCalledAt(ctx, tx)
	if err != nil {
		return store.CallResult{}, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	s.mu.Lock()
	selection := queue.SelectNext(pendingNormal, pendingPriority, cfg, input.Streak, lastPriorityCall, calledAt, s.rng)
	s.mu.Unlock()

	if selection.Ticket == nil {
		if err = tx.Commit(ctx); err != nil {
			return store.CallResult{}, err
		}
		return store.CallResult{Streak: selection.Streak}, store.ErrNoTicket
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET is_called = TRUE,
			called_by = $2,
			called_at = $3,
			counter_label = $4
		WHERE id = $1
		RETURNING `+ticketColumns+`
	`, selection.Ticket.ID, input.OperatorID, calledAt, input.CounterLabel)

	ticket, err := scanTicket(row)
	if err != nil {
		return store.CallResult{}, err
	}

	if err = insertCallEvent(ctx, tx, "ticket.called", ticket); err != nil {
		return store.CallResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.CallResult{}, err
	}
	return store.CallResult{Ticket: ticket, Streak: selection.Streak}, nil
}

// Recall re-announces a ticket at a counter. No selection happens, so plain
// row-update atomicity is enough; prior call state is not checked on purpose.
func (s *Store) Recall(ctx context.Context, input store.RecallInput) (models.Ticket, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET is_called = TRUE,
			called_by = $2,
			called_at = $3,
			counter_label = $4
		WHERE id = $1
		RETURNING `+ticketColumns+`
	`, input.TicketID, input.OperatorID, calledAt, input.CounterLabel)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}

	if err = insertCallEvent(ctx, tx, "ticket.recalled", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// CallCustom creates an ad-hoc announcement ticket: sequence 0, the free text
// as its label, already called at creation.
func (s *Store) CallCustom(ctx context.Context, input store.CustomCallInput) (models.Ticket, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (sequence_number, category_code, patient_class, first_visit, issued_at, is_called, called_by, called_at, counter_label)
		VALUES (0, $1, $2, FALSE, $3, TRUE, $4, $3, $5)
		RETURNING `+ticketColumns+`
	`, input.Text, models.ClassNormal, calledAt, input.OperatorID, input.CounterLabel)

	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertCallEvent(ctx, tx, "ticket.called", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListPending(ctx context.Context, patientClass string) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE NOT is_called`
	args := []interface{}{}
	if patientClass != "" {
		query += ` AND patient_class = $1`
		args = append(args, patientClass)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

// ListDisplayQueue returns the most recent calls for the wall display,
// newest first.
func (s *Store) ListDisplayQueue(ctx context.Context, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 15
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE is_called
		ORDER BY called_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) LastCall(ctx context.Context) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE is_called
		ORDER BY called_at DESC, id DESC
		LIMIT 1
	`)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListCallEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.CallEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, type, payload_json, created_at
		FROM call_events
		WHERE created_at > $1
		ORDER BY created_at ASC, event_id ASC
		LIMIT $2
	`
	args := []interface{}{after, limit}
	if afterID != "" {
		// Events sharing the boundary timestamp are paged by event id so
		// none are skipped between batches.
		query = `
			SELECT event_id, type, payload_json, created_at
			FROM call_events
			WHERE created_at > $1 OR (created_at = $1 AND event_id > $2)
			ORDER BY created_at ASC, event_id ASC
			LIMIT $3
		`
		args = []interface{}{after, afterID, limit}
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.CallEvent
	for rows.Next() {
		var event store.CallEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) Stats(ctx context.Context) (store.QueueStats, error) {
	var stats store.QueueStats
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT is_called AND patient_class = 'normal'),
			COUNT(*) FILTER (WHERE NOT is_called AND patient_class = 'priority'),
			COUNT(*) FILTER (WHERE is_called AND called_at >= date_trunc('day', now())),
			COALESCE(AVG(EXTRACT(EPOCH FROM (called_at - issued_at)) / 60.0) FILTER (WHERE is_called AND called_at IS NOT NULL), 0)
		FROM tickets
	`)
	if err := row.Scan(&stats.WaitingNormal, &stats.WaitingPriority, &stats.CalledToday, &stats.AvgWaitMinutes); err != nil {
		return store.QueueStats{}, err
	}
	return stats, nil
}

// PurgeCalledBefore deletes old called tickets in batches; retention
// housekeeping run from main, never part of a request.
func (s *Store) PurgeCalledBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tickets
		WHERE id IN (
			SELECT id FROM tickets
			WHERE is_called AND called_at <= $1
			ORDER BY called_at ASC
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// lockPending reads one class's waiting tickets in arrival order and locks
// the rows for the duration of the transaction.
func lockPending(ctx context.Context, tx pgx.Tx, patientClass string) ([]models.Ticket, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE NOT is_called AND patient_class = $1
		ORDER BY id ASC
		FOR UPDATE
	`, patientClass)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func lastPriorityCalledAt(ctx context.Context, tx pgx.Tx) (*time.Time, error) {
	var calledAt time.Time
	row := tx.QueryRow(ctx, `
		SELECT called_at
		FROM tickets
		WHERE is_called AND patient_class = $1 AND called_at IS NOT NULL
		ORDER BY called_at DESC
		LIMIT 1
	`, models.ClassPriority)
	if err := row.Scan(&calledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &calledAt, nil
}

func nextDaySequence(ctx context.Context, tx pgx.Tx, issuedAt time.Time) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (day, next_number)
		VALUES ($1, 1)
		ON CONFLICT (day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, issuedAt.UTC().Truncate(24*time.Hour))
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE request_id = $1
	`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func insertCallEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"ticket_id":     ticket.ID,
		"display_label": ticket.DisplayLabel(),
		"patient_class": ticket.PatientClass,
		"issued_at":     ticket.IssuedAt,
		"called_at":     ticket.CalledAt,
		"counter_label": ticket.CounterLabel,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO call_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var calledByNull sql.NullString
	var calledAtNull sql.NullTime
	var counterNull sql.NullString
	if err := row.Scan(&ticket.ID, &ticket.SequenceNumber, &ticket.CategoryCode, &ticket.PatientClass, &ticket.FirstVisit, &ticket.IssuedAt, &ticket.IsCalled, &calledByNull, &calledAtNull, &counterNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.CalledBy = nullStringPtr(calledByNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.CounterLabel = nullStringPtr(counterNull)
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
