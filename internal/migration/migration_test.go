package migration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lib/pq"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	pkgdb "github.com/shortyai/creditdesk/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

func TestAutoMigrateCreatesTables(t *testing.T) {
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(db, pkgdb.TypeSQLite))
	// idempotent
	require.NoError(t, Migrate(db, pkgdb.TypeSQLite))

	for _, table := range []string{"profiles", "payment_notifications", "credit_entries", "sessions"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("credit_entries", "ux_credit_entries_source"))
}

func TestMigrateRequiresHandle(t *testing.T) {
	assert.Error(t, Migrate(nil, pkgdb.TypeSQLite))
	assert.Error(t, RunMigrations(nil))
}

func TestPostgresMigrations(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("creditdesk_test"),
		tcpostgres.WithUsername("creditdesk"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := pkgdb.Open(pkgdb.Config{
		Type:     pkgdb.TypePostgres,
		Host:     host,
		Port:     port.Port(),
		Name:     "creditdesk_test",
		User:     "creditdesk",
		Password: "test-password",
		SSLMode:  "disable",
	}, false)
	require.NoError(t, err)

	require.NoError(t, Migrate(db, pkgdb.TypePostgres))
	require.NoError(t, Migrate(db, pkgdb.TypePostgres))

	now := time.Now().UTC()
	session := identitydomain.Session{
		ID:         1,
		UserID:     "uid-1",
		Provider:   identitydomain.ProviderGoogle,
		TokenHash:  "hash",
		Scopes:     pq.StringArray{"openid", "email"},
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	require.NoError(t, db.Create(&session).Error)

	var stored identitydomain.Session
	require.NoError(t, db.First(&stored, "token_hash = ?", "hash").Error)
	assert.Equal(t, pq.StringArray{"openid", "email"}, stored.Scopes)

	err = db.Exec(`INSERT INTO profiles (uid, name, email, credits, created_at, updated_at) VALUES ('u', 'n', 'e', -1, now(), now())`).Error
	assert.Error(t, err, "negative credits must be rejected")
}
