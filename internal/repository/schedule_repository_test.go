package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftschedule/solverapi/internal/models"
)

func TestScheduleGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"owner_id", "document", "updated_at"}).
		AddRow("u1", []byte(`{"clinicians":[]}`), now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT owner_id, document, updated_at FROM schedule_states WHERE owner_id = $1")).
		WithArgs("u1").
		WillReturnRows(rows)

	state, err := repo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", state.OwnerID)
	assert.JSONEq(t, `{"clinicians":[]}`, string(state.Document))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec("INSERT INTO schedule_states").WillReturnResult(sqlmock.NewResult(0, 1))

	state := &models.ScheduleState{OwnerID: "u1", Document: models.ScheduleDocument(`{}`)}
	err := repo.Upsert(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, state.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_states WHERE owner_id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublicationGetByToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPublicationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"owner_id", "owner_token", "clinician_tokens", "updated_at"}).
		AddRow("u1", "tok-owner", []byte(`{"c1":"tok-c1"}`), now)
	mock.ExpectQuery("SELECT owner_id, owner_token, clinician_tokens, updated_at FROM schedule_publications").
		WithArgs("tok-c1").
		WillReturnRows(rows)

	pub, err := repo.GetByToken(context.Background(), "tok-c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", pub.OwnerID)
	assert.Equal(t, "tok-c1", pub.ClinicianTokens["c1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublicationUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPublicationRepository(db)

	mock.ExpectExec("INSERT INTO schedule_publications").WillReturnResult(sqlmock.NewResult(0, 1))

	pub := &models.SchedulePublication{OwnerID: "u1", OwnerToken: "tok"}
	err := repo.Upsert(context.Background(), pub)
	require.NoError(t, err)
	assert.False(t, pub.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
