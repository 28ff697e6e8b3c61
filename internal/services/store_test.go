package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"ebs-gateway/internal/database"
	"ebs-gateway/internal/gateway"
	"ebs-gateway/internal/models"
	"ebs-gateway/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func seedCredential(t *testing.T, db *gorm.DB) models.APIKey {
	t.Helper()
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	key := models.APIKey{UserID: 42, ClientKey: "ck1", SecretKey: "sk1", Status: "active", ExpiresAt: &exp}
	require.NoError(t, db.Create(&key).Error)
	require.NoError(t, db.Create(&models.User{ID: 42, Organizer: " 14 "}).Error)
	require.NoError(t, db.Create(&[]models.APIKeyLimit{
		{APIKeyID: key.ID, RoutePrefix: "/api/v1", PerMin: 2},
		{APIKeyID: key.ID, RoutePrefix: "", PerMin: 10, Burst: testutil.Int(5)},
	}).Error)
	require.NoError(t, db.Create(&[]models.APIKeyIP{
		{APIKeyID: key.ID, IPPattern: "10.0.%"},
		{APIKeyID: key.ID, IPPattern: "203.0.113.7"},
	}).Error)
	return key
}

func TestStore_Lookups(t *testing.T) {
	dbm := testutil.NewSQLite(t)
	key := seedCredential(t, dbm.WriteDB)
	store := NewStore(dbm)
	ctx := context.Background()

	t.Run("find credential", func(t *testing.T) {
		cred, err := store.FindCredential(ctx, "ck1", "sk1")
		require.NoError(t, err)
		require.NotNil(t, cred)
		assert.Equal(t, key.ID, cred.ID)
		assert.Equal(t, int64(42), cred.UserID)
		assert.Equal(t, gateway.StatusActive, cred.Status)
		assert.True(t, cred.ExpiresAt.Equal(*key.ExpiresAt))
	})

	t.Run("wrong secret finds nothing", func(t *testing.T) {
		cred, err := store.FindCredential(ctx, "ck1", "nope")
		require.NoError(t, err)
		assert.Nil(t, cred)
	})

	t.Run("limit rules", func(t *testing.T) {
		rules, err := store.LimitRules(ctx, key.ID)
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, "/api/v1", rules[0].RoutePrefix)
		assert.Nil(t, rules[0].Burst)
		assert.Equal(t, gateway.WildcardPrefix, rules[1].RoutePrefix)
		assert.Equal(t, "*:10+5", rules[1].Policy())
	})

	t.Run("ip rules", func(t *testing.T) {
		rules, err := store.IPRules(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, []gateway.IPRule{{Pattern: "10.0.%"}, {Pattern: "203.0.113.7"}}, rules)

		none, err := store.IPRules(ctx, key.ID+1)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("organizer", func(t *testing.T) {
		org, err := store.OrganizerOf(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, "14", org)

		org, err = store.OrganizerOf(ctx, 9999)
		require.NoError(t, err)
		assert.Empty(t, org)
	})

	t.Run("touch last used", func(t *testing.T) {
		at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
		require.NoError(t, store.TouchLastUsed(ctx, key.ID, at))

		var got models.APIKey
		require.NoError(t, dbm.WriteDB.First(&got, key.ID).Error)
		require.NotNil(t, got.LastUsedAt)
		assert.True(t, got.LastUsedAt.Equal(at))
	})
}

func TestStore_LimitRulesNormalizesStoredPrefixes(t *testing.T) {
	dbm := testutil.NewSQLite(t)
	require.NoError(t, dbm.WriteDB.Create(&[]models.APIKeyLimit{
		{APIKeyID: 5, RoutePrefix: "/api/v1/", PerMin: 3},
		{APIKeyID: 5, RoutePrefix: " / ", PerMin: 9},
	}).Error)

	rules, err := NewStore(dbm).LimitRules(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "/api/v1", rules[0].RoutePrefix)
	assert.True(t, rules[0].Matches("/api/v1/ebs"))
	assert.Equal(t, gateway.WildcardPrefix, rules[1].RoutePrefix)
}

func TestStore_NullExpiryReadsAsZero(t *testing.T) {
	dbm := testutil.NewSQLite(t)
	require.NoError(t, dbm.WriteDB.Create(&models.APIKey{UserID: 1, ClientKey: "a", SecretKey: "b", Status: "Active "}).Error)

	cred, err := NewStore(dbm).FindCredential(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.True(t, cred.ExpiresAt.IsZero())
	assert.Equal(t, gateway.StatusActive, cred.Status)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewStore(database.New(db)), mock
}

func TestStore_UpstreamFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")

	t.Run("credential lookup", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `api_keys`")).WillReturnError(boom)

		cred, err := store.FindCredential(ctx, "ck1", "sk1")
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, cred)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit rules", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `api_key_limits`")).WillReturnError(boom)

		_, err := store.LimitRules(ctx, 1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("ip rules", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT `ip_pattern` FROM `api_key_ips`")).WillReturnError(boom)

		_, err := store.IPRules(ctx, 1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("organizer", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT `organizer` FROM `users`")).WillReturnError(boom)

		_, err := store.OrganizerOf(ctx, 1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("mysql credential row", func(t *testing.T) {
		store, mock := newMockStore(t)
		exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		rows := sqlmock.NewRows([]string{"id", "user_id", "client_key", "secret_key", "status", "expires_at"}).
			AddRow(7, 70, "ck1", "sk1", "suspended", exp)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `api_keys` WHERE client_key = ? AND secret_key = ?")).
			WillReturnRows(rows)

		cred, err := store.FindCredential(ctx, "ck1", "sk1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), cred.ID)
		assert.Equal(t, gateway.StatusSuspended, cred.Status)
		assert.True(t, cred.ExpiresAt.Equal(exp))
	})
}
