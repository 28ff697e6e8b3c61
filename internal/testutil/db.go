package testutil

import (
	"fmt"
	"testing"

	"ebs-gateway/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLite opens a private in-memory SQLite database with every table
// migrated. It is closed when the test ends.
func NewSQLite(t *testing.T) *database.DBManager {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	m := database.New(db)
	require.NoError(t, m.MigrateAPI())
	require.NoError(t, m.MigrateEbs())
	return m
}
