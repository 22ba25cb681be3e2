package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

func newBookingRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func bookingRows(id string) *sqlmock.Rows {
	start := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "parent_id", "child_id", "psychologist_id", "session_type", "status", "payment_status",
		"scheduled_start", "scheduled_end", "meeting_link", "meeting_id", "meeting_address",
		"qr_verification_code", "session_verified_at", "parent_notes", "cancellation_reason",
		"created_at", "updated_at",
	}).AddRow(
		id, "parent-1", "child-1", "psy-1", "InitialConsultation", "payment_pending", "pending",
		start, start.Add(2*time.Hour), nil, nil, "12 Nguyen Trai, Hanoi",
		"qr-code-1", nil, "", "",
		time.Now(), time.Now(),
	)
}

func slotIDRows(ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"slot_id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	return rows
}

func TestBookingRepositoryCreateAttachesSlotsInOrder(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	booking := &models.Booking{
		ID:             "book-1",
		ParentID:       "parent-1",
		ChildID:        "child-1",
		PsychologistID: "psy-1",
		SessionType:    models.SessionInitialConsultation,
		Status:         models.BookingStatusPendingPayment,
		PaymentStatus:  models.PaymentStatusPending,
		ScheduledStart: time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2026, 9, 14, 11, 0, 0, 0, time.UTC),
		SlotIDs:        []int64{11, 12},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	attach := regexp.QuoteMeta("INSERT INTO booking_slots (booking_id, slot_id, position) VALUES ($1, $2, $3)")
	mock.ExpectExec(attach).
		WithArgs("book-1", int64(11), 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(attach).
		WithArgs("book-1", int64(12), 1).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), nil, booking))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryFindByIDLoadsSlotsByPosition(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
		WithArgs("book-1").
		WillReturnRows(bookingRows("book-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT slot_id FROM booking_slots WHERE booking_id = $1 ORDER BY position ASC")).
		WithArgs("book-1").
		WillReturnRows(slotIDRows(11, 12))

	booking, err := repo.FindByID(context.Background(), nil, "book-1")
	require.NoError(t, err)
	require.Equal(t, "book-1", booking.ID)
	require.Equal(t, models.SessionInitialConsultation, booking.SessionType)
	require.Equal(t, []int64{11, 12}, booking.SlotIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositorySetConfirmedStoresMeetingDetails(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	link := "https://meet.discova.io/meet-1"
	meetingID := "meet-1"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status = $1, payment_status = $2, meeting_link = $3, meeting_id = $4")).
		WithArgs(models.BookingStatusConfirmed, models.PaymentStatusPaid, link, meetingID, "book-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetConfirmed(context.Background(), nil, "book-1", &link, &meetingID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositorySetCancelledWritesReason(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status = 'cancelled', payment_status = $1, cancellation_reason = $2")).
		WithArgs(models.PaymentStatusRefunded, "hold expired before payment confirmation", "book-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetCancelled(context.Background(), nil, "book-1", models.PaymentStatusRefunded, "hold expired before payment confirmation"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryFindByQRCode(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE qr_verification_code = $1")).
		WithArgs("qr-code-1").
		WillReturnRows(bookingRows("book-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT slot_id FROM booking_slots")).
		WithArgs("book-1").
		WillReturnRows(slotIDRows(11, 12))

	booking, err := repo.FindByQRCode(context.Background(), "qr-code-1")
	require.NoError(t, err)
	require.NotNil(t, booking.QRVerificationCode)
	require.Equal(t, "qr-code-1", *booking.QRVerificationCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryListUpcomingAppliesPaginationDefaults(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE parent_id = $1 AND scheduled_start > $2 AND status IN ('payment_pending', 'confirmed')")).
		WithArgs("parent-1", now, 20, 0).
		WillReturnRows(bookingRows("book-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT slot_id FROM booking_slots")).
		WithArgs("book-1").
		WillReturnRows(slotIDRows(11, 12))

	bookings, err := repo.ListUpcomingByParent(context.Background(), "parent-1", now, models.Pagination{})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	require.Equal(t, []int64{11, 12}, bookings[0].SlotIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}
