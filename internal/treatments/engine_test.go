package treatments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
)

type recordingOutbox struct {
	types []string
}

func (o *recordingOutbox) InsertTx(ctx context.Context, tx pgx.Tx, aggregate, eventType string, payload any) (uuid.UUID, error) {
	o.types = append(o.types, eventType)
	return uuid.New(), nil
}

type recordingNotifier struct {
	userIDs []uuid.UUID
	kinds   []string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, kind, title, message string, relatedID *uuid.UUID) error {
	n.userIDs = append(n.userIDs, userID)
	n.kinds = append(n.kinds, kind)
	return nil
}

func newEngineWithMock(t *testing.T) (*Engine, pgxmock.PgxPoolIface, *recordingOutbox) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	outbox := &recordingOutbox{}
	engine := NewEngine(mock, newRepositoryWithDB(mock), outbox, DefaultExpiryBufferDays, nil)
	return engine, mock, outbox
}

func programRow(id uuid.UUID, total int, status string, paused bool, pausedAt *time.Time, expiry *time.Time) *pgxmock.Rows {
	return programRowForClient(id, uuid.New(), total, status, paused, pausedAt, expiry)
}

func programRowForClient(id, clientID uuid.UUID, total int, status string, paused bool, pausedAt *time.Time, expiry *time.Time) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{
		"id", "client_id", "template_id", "name", "service_ids", "consultant_name",
		"total_sessions", "sessions_per_week", "session_duration", "start_date", "expiry_date",
		"completed_sessions", "progress_percent", "status", "paused", "pause_reason", "paused_at",
		"created_at", "updated_at",
	}).AddRow(
		id, pgtype.UUID{Bytes: [16]byte(clientID), Valid: true}, pgtype.UUID{}, "Back Therapy", []byte(`[]`), "Dr. Mai",
		total, 2, 60, pgtype.Date{Time: now, Valid: true}, toPGDate(expiry),
		0, 0, status, paused, "", toPGTime(pausedAt),
		now, now,
	)
}

func sessionRow(id, programID uuid.UUID, seq int, status string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "program_id", "seq", "status", "scheduled_date", "scheduled_time",
		"appointment_id", "clinical_notes", "next_recommendation",
	}).AddRow(id, programID, seq, status, pgtype.Date{}, "", pgtype.UUID{}, "", "")
}

func TestCreateProgramGeneratesLedger(t *testing.T) {
	engine, mock, _ := newEngineWithMock(t)
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO treatment_programs").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "Back Therapy", pgxmock.AnyArg(), pgxmock.AnyArg(),
			4, 2, 60, pgxmock.AnyArg(), pgxmock.AnyArg(), string(ProgramActive),
		).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	for seq := 1; seq <= 4; seq++ {
		mock.ExpectExec("INSERT INTO treatment_sessions").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), seq, string(SessionPending), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	p, err := engine.CreateProgram(context.Background(), ProgramInput{
		ClientID:           uuid.New(),
		Name:               "Back Therapy",
		TotalSessions:      4,
		SessionsPerWeek:    2,
		SessionDurationMin: 60,
		StartDate:          start,
	})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	if p.Status != ProgramActive {
		t.Fatalf("expected active program, got %s", p.Status)
	}
	// 4 sessions at 2/week: ceil(2 weeks)*7 = 14 days + 14 buffer.
	wantExpiry := start.AddDate(0, 0, 28)
	if p.ExpiryDate == nil || !p.ExpiryDate.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, p.ExpiryDate)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateProgramValidation(t *testing.T) {
	engine, _, _ := newEngineWithMock(t)

	_, err := engine.CreateProgram(context.Background(), ProgramInput{
		ClientID:        uuid.New(),
		Name:            "No Sessions",
		TotalSessions:   0,
		SessionsPerWeek: 1,
		StartDate:       time.Now(),
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPauseAlreadyPaused(t *testing.T) {
	engine, mock, _ := newEngineWithMock(t)
	programID := uuid.New()
	pausedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, client_id, template_id").
		WithArgs(programID).
		WillReturnRows(programRow(programID, 10, "paused", true, &pausedAt, nil))
	mock.ExpectRollback()

	_, err := engine.Pause(context.Background(), programID, "holiday")
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResumeExtendsExpiryByPausedDays(t *testing.T) {
	engine, mock, _ := newEngineWithMock(t)
	programID := uuid.New()

	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	pausedAt := now.AddDate(0, 0, -5)
	expiry := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, client_id, template_id").
		WithArgs(programID).
		WillReturnRows(programRow(programID, 10, "paused", true, &pausedAt, &expiry))
	wantExpiry := expiry.AddDate(0, 0, 5)
	mock.ExpectExec("UPDATE treatment_programs").
		WithArgs(programID, "active", false, "", pgtype.Timestamptz{}, pgtype.Date{Time: wantExpiry, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	p, err := engine.Resume(context.Background(), programID, nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if p.Status != ProgramActive || p.Paused {
		t.Fatalf("expected active unpaused program, got %+v", p)
	}
	if p.ExpiryDate == nil || !p.ExpiryDate.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, p.ExpiryDate)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResumeNotPaused(t *testing.T) {
	engine, mock, _ := newEngineWithMock(t)
	programID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, client_id, template_id").
		WithArgs(programID).
		WillReturnRows(programRow(programID, 10, "active", false, nil, nil))
	mock.ExpectRollback()

	_, err := engine.Resume(context.Background(), programID, nil)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCompleteSessionRecomputesProgress(t *testing.T) {
	engine, mock, outbox := newEngineWithMock(t)
	programID := uuid.New()
	sessionID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.id, s\.program_id`).
		WithArgs(sessionID).
		WillReturnRows(sessionRow(sessionID, programID, 10, "scheduled"))
	mock.ExpectExec("UPDATE treatment_sessions").
		WithArgs(sessionID, string(SessionCompleted), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "responded well", "maintain weekly").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT id, client_id, template_id").
		WithArgs(programID).
		WillReturnRows(programRow(programID, 10, "in_progress", false, nil, nil))
	mock.ExpectQuery(`COUNT`).
		WithArgs(programID).
		WillReturnRows(pgxmock.NewRows([]string{"scheduled", "completed"}).AddRow(0, 10))
	mock.ExpectExec("UPDATE treatment_programs").
		WithArgs(programID, 10, 100, "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	s, err := engine.CompleteSession(context.Background(), sessionID, "responded well", "maintain weekly")
	if err != nil {
		t.Fatalf("complete session: %v", err)
	}
	if s.Status != SessionCompleted {
		t.Fatalf("expected completed session, got %s", s.Status)
	}
	if len(outbox.types) != 1 {
		t.Fatalf("expected program completion event, got %v", outbox.types)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCompleteSessionNotifiesClientOnCompletion(t *testing.T) {
	engine, mock, _ := newEngineWithMock(t)
	notifier := &recordingNotifier{}
	engine.WithNotifier(notifier)
	programID := uuid.New()
	sessionID := uuid.New()
	clientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.id, s\.program_id`).
		WithArgs(sessionID).
		WillReturnRows(sessionRow(sessionID, programID, 10, "scheduled"))
	mock.ExpectExec("UPDATE treatment_sessions").
		WithArgs(sessionID, string(SessionCompleted), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT id, client_id, template_id").
		WithArgs(programID).
		WillReturnRows(programRowForClient(programID, clientID, 10, "in_progress", false, nil, nil))
	mock.ExpectQuery(`COUNT`).
		WithArgs(programID).
		WillReturnRows(pgxmock.NewRows([]string{"scheduled", "completed"}).AddRow(0, 10))
	mock.ExpectExec("UPDATE treatment_programs").
		WithArgs(programID, 10, 100, "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if _, err := engine.CompleteSession(context.Background(), sessionID, "", ""); err != nil {
		t.Fatalf("complete session: %v", err)
	}
	if len(notifier.userIDs) != 1 || notifier.userIDs[0] != clientID {
		t.Fatalf("expected one notification for client %s, got %v", clientID, notifier.userIDs)
	}
	if notifier.kinds[0] != "program_completed" {
		t.Fatalf("expected program_completed kind, got %s", notifier.kinds[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCompleteSessionNoNotificationBelowFull(t *testing.T) {
	engine, mock, _ := newEngineWithMock(t)
	notifier := &recordingNotifier{}
	engine.WithNotifier(notifier)
	programID := uuid.New()
	sessionID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.id, s\.program_id`).
		WithArgs(sessionID).
		WillReturnRows(sessionRow(sessionID, programID, 3, "scheduled"))
	mock.ExpectExec("UPDATE treatment_sessions").
		WithArgs(sessionID, string(SessionCompleted), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT id, client_id, template_id").
		WithArgs(programID).
		WillReturnRows(programRow(programID, 10, "in_progress", false, nil, nil))
	mock.ExpectQuery(`COUNT`).
		WithArgs(programID).
		WillReturnRows(pgxmock.NewRows([]string{"scheduled", "completed"}).AddRow(2, 3))
	mock.ExpectExec("UPDATE treatment_programs").
		WithArgs(programID, 3, 30, "in_progress").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if _, err := engine.CompleteSession(context.Background(), sessionID, "", ""); err != nil {
		t.Fatalf("complete session: %v", err)
	}
	if len(notifier.userIDs) != 0 {
		t.Fatalf("expected no notification, got %v", notifier.userIDs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCompleteSessionRejectsPending(t *testing.T) {
	engine, mock, _ := newEngineWithMock(t)
	programID := uuid.New()
	sessionID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.id, s\.program_id`).
		WithArgs(sessionID).
		WillReturnRows(sessionRow(sessionID, programID, 1, "pending"))
	mock.ExpectRollback()

	_, err := engine.CompleteSession(context.Background(), sessionID, "", "")
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for pending session, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
