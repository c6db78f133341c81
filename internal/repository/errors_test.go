package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidsift/internal/models"
)

var errConnReset = errors.New("connection reset by peer")

// newMockDB returns a postgres-dialect gorm DB whose queries are answered by
// sqlmock, for failure paths sqlite cannot produce on demand.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		sqlDB.Close()
	})
	return db, mock
}

func TestReportRepo_GetByID_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "reports"`).WillReturnError(errConnReset)

	report, err := NewReportRepository(db).GetByID(context.Background(), models.NewULID())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, errConnReset)
	assert.Contains(t, err.Error(), "getting report by ID")
}

func TestReportRepo_GetByID_NoRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "reports"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	report, err := NewReportRepository(db).GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestReportRepo_List_CountError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "reports"`).WillReturnError(errConnReset)

	reports, total, err := NewReportRepository(db).List(context.Background(), ReportFilter{VideoID: "v1"})
	require.Error(t, err)
	assert.Nil(t, reports)
	assert.Zero(t, total)
	assert.ErrorIs(t, err, errConnReset)
	assert.Contains(t, err.Error(), "counting reports")
}

func TestRunStateRepo_Get_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "run_state"`).WillReturnError(errConnReset)

	state, err := NewRunStateRepository(db).Get(context.Background())
	require.Error(t, err)
	assert.Nil(t, state)
	assert.ErrorIs(t, err, errConnReset)
}
