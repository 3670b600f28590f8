package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/catalog"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/identity"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/scheduling"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/treatments"
)

type recordingOutbox struct {
	types []string
}

func (o *recordingOutbox) InsertTx(ctx context.Context, tx pgx.Tx, aggregate, eventType string, payload any) (uuid.UUID, error) {
	o.types = append(o.types, eventType)
	return uuid.New(), nil
}

type stubSelector struct {
	pick  *uuid.UUID
	calls int
}

func (s *stubSelector) SelectStaff(ctx context.Context, serviceID, clientID uuid.UUID, day time.Time, t string) (*uuid.UUID, error) {
	s.calls++
	return s.pick, nil
}

type stubDirectory struct {
	users   map[uuid.UUID]*identity.User
	byPhone map[string]*identity.User
	created []string
}

func (d *stubDirectory) GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (d *stubDirectory) GetClientByPhone(ctx context.Context, phone string) (*identity.User, error) {
	if u, ok := d.byPhone[phone]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (d *stubDirectory) CreateClientTx(ctx context.Context, tx pgx.Tx, name, phone string) (*identity.User, error) {
	d.created = append(d.created, phone)
	return &identity.User{ID: uuid.New(), Name: name, Phone: phone, Role: identity.RoleClient}, nil
}

type stubWallets struct {
	created []uuid.UUID
}

func (w *stubWallets) CreateWalletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	w.created = append(w.created, userID)
	return nil
}

type stubCatalog struct{}

func (stubCatalog) GetService(ctx context.Context, id uuid.UUID) (*catalog.Service, error) {
	return &catalog.Service{ID: id, Name: "Deep Tissue Massage", DurationMin: 60}, nil
}

type stubSessions struct {
	scheduled []uuid.UUID
	completed []uuid.UUID
}

func (s *stubSessions) MarkSessionScheduledTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, date time.Time, timeOfDay string, appointmentID *uuid.UUID) (*treatments.Session, treatments.ProgressSnapshot, error) {
	s.scheduled = append(s.scheduled, sessionID)
	return &treatments.Session{ID: sessionID}, treatments.ProgressSnapshot{}, nil
}

func (s *stubSessions) MarkSessionCompletedTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, clinicalNotes, nextRecommendation string) (*treatments.Session, treatments.ProgressSnapshot, error) {
	s.completed = append(s.completed, sessionID)
	return &treatments.Session{ID: sessionID}, treatments.ProgressSnapshot{}, nil
}

type serviceFixture struct {
	svc      *Service
	mock     pgxmock.PgxPoolIface
	selector *stubSelector
	dir      *stubDirectory
	wallets  *stubWallets
	sessions *stubSessions
	outbox   *recordingOutbox
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)

	f := &serviceFixture{
		mock:     mock,
		selector: &stubSelector{},
		dir:      &stubDirectory{users: map[uuid.UUID]*identity.User{}, byPhone: map[string]*identity.User{}},
		wallets:  &stubWallets{},
		sessions: &stubSessions{},
		outbox:   &recordingOutbox{},
	}
	f.svc = NewService(
		mock, newRepositoryWithDB(mock), f.selector,
		scheduling.NewSlotHold(nil, 0, nil),
		f.dir, f.wallets, stubCatalog{}, f.sessions, f.outbox, nil, nil,
	)
	return f
}

func (f *serviceFixture) addStaff(name string) uuid.UUID {
	id := uuid.New()
	f.dir.users[id] = &identity.User{ID: id, Name: name, Role: identity.RoleStaff, Status: identity.StatusActive}
	return id
}

func (f *serviceFixture) addClient(name, phone string) *identity.User {
	u := &identity.User{ID: uuid.New(), Name: name, Phone: phone, Role: identity.RoleClient}
	f.dir.users[u.ID] = u
	f.dir.byPhone[phone] = u
	return u
}

// insertArgs pins the discriminating columns of the appointment insert and
// wildcards the rest. Order mirrors InsertTx.
func insertArgs(clientID any, startTime, status, serviceName, staffName, clientName string) []any {
	return []any{
		pgxmock.AnyArg(), clientID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), startTime, status, pgxmock.AnyArg(),
		serviceName, staffName, clientName, pgxmock.AnyArg(),
	}
}

func apptRow(id, clientID uuid.UUID, sessionID *uuid.UUID, status Status) *pgxmock.Rows {
	var programID, sessID pgtype.UUID
	if sessionID != nil {
		programID = pgtype.UUID{Bytes: [16]byte(uuid.New()), Valid: true}
		sessID = pgtype.UUID{Bytes: [16]byte(*sessionID), Valid: true}
	}
	now := time.Now()
	return pgxmock.NewRows([]string{
		"id", "client_id", "service_id", "staff_id", "booking_group_id",
		"program_id", "session_id", "date", "start_time", "status", "payment_state",
		"service_name", "staff_name", "client_name", "notes", "completed_at", "created_at", "updated_at",
	}).AddRow(
		id, clientID, uuid.New(), pgtype.UUID{}, pgtype.UUID{},
		programID, sessID, pgtype.Date{Time: now, Valid: true}, "10:00", string(status), "unpaid",
		"Deep Tissue Massage", "", "Lan", "", pgtype.Timestamptz{}, now, now,
	)
}

func TestCreateBookingExistingClientExplicitStaff(t *testing.T) {
	f := newServiceFixture(t)
	client := f.addClient("Lan", "0901234567")
	staffID := f.addStaff("Huong")

	f.mock.ExpectBegin()
	f.mock.ExpectBegin() // savepoint
	f.mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(client.ID, "10:00", string(StatusPending), "Deep Tissue Massage", "Huong", "Lan")...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	f.mock.ExpectCommit()
	f.mock.ExpectCommit()

	booking, err := f.svc.Create(context.Background(), BookingRequest{
		ClientID: &client.ID,
		Items: []BookingItem{{
			ServiceID: uuid.New(),
			Date:      time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
			StartTime: "10:00",
			Staff:     staffID.String(),
		}},
	})
	require.NoError(t, err)
	require.Len(t, booking.Appointments, 1)

	a := booking.Appointments[0]
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, client.ID, a.ClientID)
	require.NotNil(t, a.StaffID)
	assert.Equal(t, staffID, *a.StaffID)
	assert.Equal(t, "Huong", a.StaffName)
	assert.Equal(t, "Deep Tissue Massage", a.ServiceName)
	assert.Nil(t, booking.GroupID)
	assert.Equal(t, 0, f.selector.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateBookingAnyStaffUsesSelector(t *testing.T) {
	f := newServiceFixture(t)
	client := f.addClient("Lan", "0901234567")
	staffID := f.addStaff("Huong")
	f.selector.pick = &staffID

	f.mock.ExpectBegin()
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(client.ID, "10:00", string(StatusPending), "Deep Tissue Massage", "Huong", "Lan")...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	f.mock.ExpectCommit()
	f.mock.ExpectCommit()

	booking, err := f.svc.Create(context.Background(), BookingRequest{
		ClientID: &client.ID,
		Items: []BookingItem{{
			ServiceID: uuid.New(),
			Date:      time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
			StartTime: "10:00",
			Staff:     StaffAny,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.selector.calls)
	require.NotNil(t, booking.Appointments[0].StaffID)
	assert.Equal(t, staffID, *booking.Appointments[0].StaffID)
}

func TestCreateBookingFirstTimeClientGetsAccountAndWallet(t *testing.T) {
	f := newServiceFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(pgxmock.AnyArg(), "10:00", string(StatusPending), "Deep Tissue Massage", "", "Minh")...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	f.mock.ExpectCommit()
	f.mock.ExpectCommit()

	booking, err := f.svc.Create(context.Background(), BookingRequest{
		ClientName:  "Minh",
		ClientPhone: "0987654321",
		Items: []BookingItem{{
			ServiceID: uuid.New(),
			Date:      time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
			StartTime: "10:00",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0987654321"}, f.dir.created)
	require.Len(t, f.wallets.created, 1)
	assert.Equal(t, booking.Appointments[0].ClientID, f.wallets.created[0])
	assert.Equal(t, "Minh", booking.Appointments[0].ClientName)
	assert.True(t, booking.Appointments[0].PendingAssignment())
}

func TestCreateBookingSlotRaceFallsBackToUnassigned(t *testing.T) {
	f := newServiceFixture(t)
	client := f.addClient("Lan", "0901234567")
	staffID := f.addStaff("Huong")

	f.mock.ExpectBegin()
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(client.ID, "10:00", string(StatusPending), "Deep Tissue Massage", "Huong", "Lan")...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_appointments_staff_slot"})
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(client.ID, "10:00", string(StatusPending), "Deep Tissue Massage", "", "Lan")...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	f.mock.ExpectCommit()
	f.mock.ExpectCommit()

	booking, err := f.svc.Create(context.Background(), BookingRequest{
		ClientID: &client.ID,
		Items: []BookingItem{{
			ServiceID: uuid.New(),
			Date:      time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
			StartTime: "10:00",
			Staff:     staffID.String(),
		}},
	})
	require.NoError(t, err)
	assert.Nil(t, booking.Appointments[0].StaffID)
	assert.Empty(t, booking.Appointments[0].StaffName)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateBookingMultiItemSharesGroup(t *testing.T) {
	f := newServiceFixture(t)
	client := f.addClient("Lan", "0901234567")

	f.mock.ExpectBegin()
	for _, start := range []string{"10:00", "11:00"} {
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("INSERT INTO appointments").
			WithArgs(insertArgs(client.ID, start, string(StatusPending), "Deep Tissue Massage", "", "Lan")...).
			WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
		f.mock.ExpectCommit()
	}
	f.mock.ExpectCommit()

	day := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
	booking, err := f.svc.Create(context.Background(), BookingRequest{
		ClientID: &client.ID,
		Items: []BookingItem{
			{ServiceID: uuid.New(), Date: day, StartTime: "10:00"},
			{ServiceID: uuid.New(), Date: day, StartTime: "11:00"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, booking.GroupID)
	for _, a := range booking.Appointments {
		require.NotNil(t, a.BookingGroupID)
		assert.Equal(t, *booking.GroupID, *a.BookingGroupID)
	}
}

func TestCreateBookingAdminDirectStartsScheduled(t *testing.T) {
	f := newServiceFixture(t)
	client := f.addClient("Lan", "0901234567")

	f.mock.ExpectBegin()
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(insertArgs(client.ID, "10:00", string(StatusScheduled), "Deep Tissue Massage", "", "Lan")...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	f.mock.ExpectCommit()
	f.mock.ExpectCommit()

	booking, err := f.svc.Create(context.Background(), BookingRequest{
		ClientID:    &client.ID,
		AdminDirect: true,
		Items: []BookingItem{{
			ServiceID: uuid.New(),
			Date:      time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
			StartTime: "10:00",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, booking.Appointments[0].Status)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newServiceFixture(t)
	client := f.addClient("Lan", "0901234567")

	_, err := f.svc.Create(context.Background(), BookingRequest{ClientID: &client.ID})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.svc.Create(context.Background(), BookingRequest{
		Items: []BookingItem{{ServiceID: uuid.New(), Date: time.Now(), StartTime: "10:00"}},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.svc.Create(context.Background(), BookingRequest{
		ClientID: &client.ID,
		Items:    []BookingItem{{ServiceID: uuid.New(), Date: time.Now(), StartTime: "10:00", Staff: "not-a-uuid"}},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestConfirmMovesPendingToScheduledAndSyncsSession(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	sessionID := uuid.New()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(apptRow(id, uuid.New(), &sessionID, StatusPending))
	f.mock.ExpectExec("UPDATE appointments").
		WithArgs(id, string(StatusScheduled), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectCommit()

	a, err := f.svc.Confirm(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, []uuid.UUID{sessionID}, f.sessions.scheduled)
	require.Len(t, f.outbox.types, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestConfirmRejectsNonPending(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(apptRow(id, uuid.New(), nil, StatusScheduled))
	f.mock.ExpectRollback()

	_, err := f.svc.Confirm(context.Background(), id)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.Empty(t, f.outbox.types)
}

func TestUpdateToCompletedStampsTimeAndCompletesSession(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	sessionID := uuid.New()
	frozen := time.Date(2026, 9, 3, 11, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return frozen }

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(apptRow(id, uuid.New(), &sessionID, StatusScheduled))
	f.mock.ExpectExec("UPDATE appointments").
		WithArgs(
			id, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			string(StatusCompleted), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectCommit()

	completed := StatusCompleted
	a, err := f.svc.Update(context.Background(), id, UpdatePatch{
		Status:        &completed,
		ClinicalNotes: "responded well",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.Status)
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, frozen, *a.CompletedAt)
	assert.Equal(t, []uuid.UUID{sessionID}, f.sessions.completed)
	require.Len(t, f.outbox.types, 1)
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(apptRow(id, uuid.New(), nil, StatusCompleted))
	f.mock.ExpectRollback()

	cancelled := StatusCancelled
	_, err := f.svc.Update(context.Background(), id, UpdatePatch{Status: &cancelled})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestCancelLeavesSessionUntouched(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	sessionID := uuid.New()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(apptRow(id, uuid.New(), &sessionID, StatusScheduled))
	f.mock.ExpectExec("UPDATE appointments").
		WithArgs(id, string(StatusCancelled), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectCommit()

	a, err := f.svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, a.Status)
	assert.Empty(t, f.sessions.completed)
	assert.Empty(t, f.sessions.scheduled)
	require.Len(t, f.outbox.types, 1)
}

func TestCancelRejectsTerminal(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(apptRow(id, uuid.New(), nil, StatusCompleted))
	f.mock.ExpectRollback()

	_, err := f.svc.Cancel(context.Background(), id)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}
