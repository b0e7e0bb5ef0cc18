package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/config"
	"github.com/shortyai/creditdesk/internal/credit/domain"
	"github.com/shortyai/creditdesk/internal/credit/repository"
	"github.com/shortyai/creditdesk/internal/credit/service"
	"github.com/shortyai/creditdesk/internal/liveevents"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	profilerepository "github.com/shortyai/creditdesk/internal/profile/repository"
	profileservice "github.com/shortyai/creditdesk/internal/profile/service"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc     domain.Service
	profile profiledomain.Service
	db      *gorm.DB
	hub     *liveevents.Hub
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	db := setupTestDB(t)
	hub := liveevents.NewHub()
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	profileSvc := profileservice.New(profileservice.Params{
		DB:        db,
		Log:       log,
		Cfg:       config.Config{},
		Clock:     clk,
		Hub:       hub,
		Publisher: liveevents.NewBroadcaster(hub, nil, clk, log),
		Repo:      profilerepository.Provide(),
	})

	svc := service.New(service.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		ProfileSvc: profileSvc,
	})
	return fixture{svc: svc, profile: profileSvc, db: db, hub: hub, clock: clk}
}

func (f fixture) ensureProfile(t *testing.T, uid string) {
	t.Helper()
	_, _, err := f.profile.Ensure(context.Background(), profiledomain.EnsureRequest{UID: uid, Name: uid})
	require.NoError(t, err)
}

func TestGrantRecordsEntryAndBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ensureProfile(t, "uid-1")

	entry, err := f.svc.Grant(ctx, f.db, domain.GrantRequest{
		UserID:     "uid-1",
		Amount:     12,
		SourceType: domain.SourcePayment,
		SourceID:   "42",
		Metadata:   map[string]any{"tier": "100"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindGrant, entry.Kind)
	assert.Equal(t, int64(1), entry.BalanceBefore)
	assert.Equal(t, int64(13), entry.BalanceAfter)

	_, err = f.svc.Grant(ctx, f.db, domain.GrantRequest{
		UserID:     "uid-1",
		Amount:     12,
		SourceType: domain.SourcePayment,
		SourceID:   "42",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)

	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-1'", 13)
	assertCount(t, f.db, "SELECT COUNT(1) FROM credit_entries", 1)
}

func TestGrantInsideRolledBackTransactionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ensureProfile(t, "uid-1")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.svc.Grant(ctx, tx, domain.GrantRequest{
			UserID:     "uid-1",
			Amount:     5,
			SourceType: domain.SourcePayment,
			SourceID:   "7",
		}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-1'", 1)
	assertCount(t, f.db, "SELECT COUNT(1) FROM credit_entries", 0)
}

func TestGrantValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Grant(ctx, f.db, domain.GrantRequest{Amount: 5, SourceType: "payment", SourceID: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = f.svc.Grant(ctx, f.db, domain.GrantRequest{UserID: "uid-1", Amount: 0, SourceType: "payment", SourceID: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Grant(ctx, f.db, domain.GrantRequest{UserID: "uid-1", Amount: 5})
	assert.ErrorIs(t, err, domain.ErrInvalidSource)

	_, err = f.svc.Grant(ctx, f.db, domain.GrantRequest{UserID: "ghost", Amount: 5, SourceType: "payment", SourceID: "1"})
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestConsumeIsIdempotentPerRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ensureProfile(t, "uid-1")

	sub, _, err := f.hub.Subscribe(liveevents.ProfileTopic("uid-1"))
	require.NoError(t, err)
	defer sub.Close()

	first, err := f.svc.Consume(ctx, domain.ConsumeRequest{UserID: "uid-1", RunID: "run-1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(-1), first.Entry.Amount)
	assert.Equal(t, int64(0), first.Entry.BalanceAfter)

	select {
	case event := <-sub.Events():
		assert.Equal(t, liveevents.TypeProfileUpdated, event.Type)
		assert.Contains(t, string(event.Data), `"credits":0`)
	case <-time.After(time.Second):
		t.Fatal("expected profile update after consume")
	}

	replay, err := f.svc.Consume(ctx, domain.ConsumeRequest{UserID: "uid-1", RunID: "run-1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Entry.ID, replay.Entry.ID)

	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-1'", 0)
	assertCount(t, f.db, "SELECT COUNT(1) FROM credit_entries", 1)
}

func TestConsumeRejectsWhenOutOfCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ensureProfile(t, "uid-1")

	_, err := f.svc.Consume(ctx, domain.ConsumeRequest{UserID: "uid-1", RunID: "run-1"})
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, domain.ConsumeRequest{UserID: "uid-1", RunID: "run-2"})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	_, err = f.svc.Consume(ctx, domain.ConsumeRequest{UserID: "ghost", RunID: "run-3"})
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-1'", 0)
}

func TestConsumeRunIDBelongsToOneUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ensureProfile(t, "uid-1")
	f.ensureProfile(t, "uid-2")

	_, err := f.svc.Consume(ctx, domain.ConsumeRequest{UserID: "uid-1", RunID: "shared"})
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, domain.ConsumeRequest{UserID: "uid-2", RunID: "shared"})
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)
	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-2'", 1)
}

func TestListEntriesPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ensureProfile(t, "uid-1")

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		_, err := f.svc.Grant(ctx, f.db, domain.GrantRequest{
			UserID:     "uid-1",
			Amount:     5,
			SourceType: domain.SourcePayment,
			SourceID:   fmt.Sprintf("p-%d", i),
		})
		require.NoError(t, err)
	}

	page, err := f.svc.ListEntries(ctx, domain.ListEntriesRequest{
		UserID:     "uid-1",
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "p-2", page.Entries[0].SourceID)
	assert.Equal(t, "p-1", page.Entries[1].SourceID)

	next, err := f.svc.ListEntries(ctx, domain.ListEntriesRequest{
		UserID:     "uid-1",
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, next.Entries, 1)
	assert.False(t, next.HasMore)
	assert.Equal(t, "p-0", next.Entries[0].SourceID)

	_, err = f.svc.ListEntries(ctx, domain.ListEntriesRequest{
		UserID:     "uid-1",
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE profiles (
			uid TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			credits BIGINT NOT NULL DEFAULT 0,
			role TEXT NOT NULL DEFAULT 'user',
			is_authorized BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE credit_entries (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount BIGINT NOT NULL,
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_credit_entries_source ON credit_entries (source_type, source_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()

	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}
