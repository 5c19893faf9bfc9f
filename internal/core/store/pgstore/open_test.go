package pgstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errRefused = errors.New("connection refused")

// refusingDriver hands out connections that fail every statement.
type refusingDriver struct{}

func (refusingDriver) Open(string) (driver.Conn, error) { return refusingConn{}, nil }

type refusingConn struct{}

func (refusingConn) Prepare(string) (driver.Stmt, error) { return nil, errRefused }
func (refusingConn) Close() error                        { return nil }
func (refusingConn) Begin() (driver.Tx, error)           { return nil, errRefused }

func init() {
	sql.Register("pgstore-refusing", refusingDriver{})
}

func TestOpenClosesPoolWhenMigrationFails(t *testing.T) {
	sqlDB, err := sql.Open("pgstore-refusing", "")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s, err := open(context.Background(), db)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "failed to migrate database")

	// a closed pool refuses new work
	assert.ErrorContains(t, sqlDB.Ping(), "database is closed")
}
