package sqlstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"docqa-platform/internal/store"
	"docqa-platform/internal/store/storetest"
)

func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))

	storetest.Run(t, func(t *testing.T) store.Store {
		t.Cleanup(func() {
			db.Exec("DELETE FROM query_logs")
			db.Exec("DELETE FROM documents")
			db.Exec("DELETE FROM users")
		})
		return s
	})
}
