package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/config"
	creditrepository "github.com/shortyai/creditdesk/internal/credit/repository"
	creditservice "github.com/shortyai/creditdesk/internal/credit/service"
	"github.com/shortyai/creditdesk/internal/liveevents"
	"github.com/shortyai/creditdesk/internal/payment/domain"
	"github.com/shortyai/creditdesk/internal/payment/repository"
	"github.com/shortyai/creditdesk/internal/payment/service"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	profilerepository "github.com/shortyai/creditdesk/internal/profile/repository"
	profileservice "github.com/shortyai/creditdesk/internal/profile/service"
	"github.com/shortyai/creditdesk/internal/providers/pdf"
	"github.com/shortyai/creditdesk/internal/tier"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type sentEmail struct {
	to       []string
	template string
	data     map[string]any
}

type recordingEmail struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (r *recordingEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (r *recordingEmail) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEmail{to: to, template: templateName, data: data})
	return nil
}

func (r *recordingEmail) all() []sentEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEmail(nil), r.sent...)
}

type fixture struct {
	svc     domain.Service
	profile profiledomain.Service
	db      *gorm.DB
	hub     *liveevents.Hub
	clock   *clock.FakeClock
	email   *recordingEmail
}

var (
	admin  = domain.Viewer{UserID: "uid-admin", Name: "Admin", Admin: true}
	ayse   = domain.Viewer{UserID: "uid-ayse", Name: "Ayşe", Email: "ayse@example.com"}
	mehmet = domain.Viewer{UserID: "uid-mehmet", Name: "Mehmet"}
)

func newFixture(t *testing.T) fixture {
	t.Helper()

	db := setupTestDB(t)
	hub := liveevents.NewHub()
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	publisher := liveevents.NewBroadcaster(hub, nil, clk, log)

	profileSvc := profileservice.New(profileservice.Params{
		DB:        db,
		Log:       log,
		Cfg:       config.Config{},
		Clock:     clk,
		Hub:       hub,
		Publisher: publisher,
		Repo:      profilerepository.Provide(),
	})
	creditSvc := creditservice.New(creditservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       creditrepository.Provide(),
		ProfileSvc: profileSvc,
	})
	mailer := &recordingEmail{}
	svc := service.New(service.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		Tiers:      tier.NewStaticHolder(tier.DefaultCatalog()),
		CreditSvc:  creditSvc,
		ProfileSvc: profileSvc,
		Hub:        hub,
		Publisher:  publisher,
		Email:      mailer,
		PDF:        pdf.NewMarotoProvider(),
	})

	f := fixture{svc: svc, profile: profileSvc, db: db, hub: hub, clock: clk, email: mailer}
	for _, v := range []domain.Viewer{admin, ayse, mehmet} {
		_, _, err := profileSvc.Ensure(context.Background(), profiledomain.EnsureRequest{UID: v.UserID, Name: v.Name, Email: v.Email})
		require.NoError(t, err)
	}
	return f
}

func (f fixture) submit(t *testing.T, viewer domain.Viewer, orderNo, tierCode string) domain.Notification {
	t.Helper()
	f.clock.Advance(time.Second)
	n, err := f.svc.Submit(context.Background(), domain.SubmitRequest{Viewer: viewer, OrderNo: orderNo, Tier: tierCode})
	require.NoError(t, err)
	return n
}

func TestSubmitStoresPendingNotification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, _, err := f.hub.Subscribe(liveevents.AllPaymentsTopic)
	require.NoError(t, err)
	defer sub.Close()

	n, err := f.svc.Submit(ctx, domain.SubmitRequest{
		Viewer:    ayse,
		OrderNo:   "  SIP-1001 ",
		Tier:      "100",
		UserAgent: "test-agent",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, n.Status)
	assert.Equal(t, "SIP-1001", n.OrderNo)
	assert.Equal(t, tier.Professional, n.Tier)
	assert.Equal(t, "Ayşe", n.UserName)
	assert.Equal(t, f.clock.Now().UnixMilli(), n.Timestamp)
	assert.Equal(t, "test-agent", n.Metadata["user_agent"])

	select {
	case event := <-sub.Events():
		assert.Equal(t, liveevents.TypePaymentSubmitted, event.Type)
		assert.Contains(t, string(event.Data), `"order_no":"SIP-1001"`)
	case <-time.After(time.Second):
		t.Fatal("expected payment.submitted on the admin feed")
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM payment_notifications WHERE status = 'pending'", 1)
	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-ayse'", 1)
}

func TestSubmitValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name string
		req  domain.SubmitRequest
		err  error
	}{
		{"missing user", domain.SubmitRequest{OrderNo: "A", Tier: "50"}, domain.ErrInvalidUser},
		{"blank order", domain.SubmitRequest{Viewer: ayse, OrderNo: "   ", Tier: "50"}, domain.ErrInvalidOrderNo},
		{"long order", domain.SubmitRequest{Viewer: ayse, OrderNo: strings.Repeat("x", 65), Tier: "50"}, domain.ErrOrderNoTooLong},
		{"missing tier", domain.SubmitRequest{Viewer: ayse, OrderNo: "A"}, domain.ErrInvalidTier},
		{"unknown tier", domain.SubmitRequest{Viewer: ayse, OrderNo: "A", Tier: "75"}, domain.ErrInvalidTier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM payment_notifications", 0)
}

func TestApproveGrantsCreditsByTier(t *testing.T) {
	cases := []struct {
		tier    string
		credits int64
	}{
		{"50", 5},
		{"100", 12},
		{"200", 12},
	}
	for _, tc := range cases {
		t.Run(tc.tier, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			n := f.submit(t, ayse, "SIP-"+tc.tier, tc.tier)

			approved, err := f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: n.ID})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusApproved, approved.Status)
			assert.Equal(t, tc.credits, approved.CreditsGranted)
			require.NotNil(t, approved.ApprovedBy)
			assert.Equal(t, admin.UserID, *approved.ApprovedBy)

			profile, err := f.profile.Get(ctx, ayse.UserID)
			require.NoError(t, err)
			assert.Equal(t, 1+tc.credits, profile.Credits)
			assertCount(t, f.db, "SELECT COUNT(1) FROM credit_entries WHERE source_type = 'payment'", 1)
		})
	}
}

func TestApproveTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := f.submit(t, ayse, "SIP-1", "50")

	_, err := f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: n.ID})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: n.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyApproved)

	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-ayse'", 6)
	assertCount(t, f.db, "SELECT COUNT(1) FROM credit_entries", 1)
}

func TestConcurrentApprovalsGrantOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := f.submit(t, ayse, "SIP-1", "100")

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: n.ID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyApproved)
	}
	assert.Equal(t, 1, succeeded)
	assertCount(t, f.db, "SELECT credits FROM profiles WHERE uid = 'uid-ayse'", 13)
	assertCount(t, f.db, "SELECT COUNT(1) FROM credit_entries", 1)
}

func TestApproveRequiresAdminAndExistingRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := f.submit(t, ayse, "SIP-1", "50")

	_, err := f.svc.Approve(ctx, domain.ApproveRequest{Admin: mehmet, ID: n.ID})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: 12345})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ghost := f.submit(t, domain.Viewer{UserID: "uid-ghost", Name: "Ghost"}, "SIP-2", "50")
	_, err = f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: ghost.ID})
	assert.ErrorIs(t, err, domain.ErrOwnerNotFound)
	assertCount(t, f.db, "SELECT COUNT(1) FROM payment_notifications WHERE status = 'pending'", 2)
}

func TestApprovePublishesAndEmails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := f.submit(t, ayse, "SIP-1", "200")

	feed, _, err := f.hub.Subscribe(liveevents.UserPaymentsTopic(ayse.UserID))
	require.NoError(t, err)
	defer feed.Close()
	profileFeed, _, err := f.hub.Subscribe(liveevents.ProfileTopic(ayse.UserID))
	require.NoError(t, err)
	defer profileFeed.Close()

	_, err = f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: n.ID})
	require.NoError(t, err)

	select {
	case event := <-feed.Events():
		assert.Equal(t, liveevents.TypePaymentApproved, event.Type)
		assert.Contains(t, string(event.Data), `"status":"approved"`)
	case <-time.After(time.Second):
		t.Fatal("expected payment.approved on the owner feed")
	}

	select {
	case event := <-profileFeed.Events():
		assert.Equal(t, liveevents.TypeProfileUpdated, event.Type)
		assert.Contains(t, string(event.Data), `"credits":13`)
	case <-time.After(time.Second):
		t.Fatal("expected profile.updated")
	}

	sent := f.email.all()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"ayse@example.com"}, sent[0].to)
	assert.Equal(t, "payment_approved", sent[0].template)
	assert.Equal(t, int64(12), sent[0].data["credits"])
	assert.Equal(t, "Elite", sent[0].data["tier_label"])
}

func TestListVisibilityAndOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.submit(t, ayse, "A-1", "50")
	second := f.submit(t, mehmet, "M-1", "100")
	third := f.submit(t, ayse, "A-2", "200")
	_, err := f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: second.ID})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, domain.ListRequest{Viewer: admin})
	require.NoError(t, err)
	require.Len(t, all.Notifications, 3)
	assert.Equal(t, third.ID, all.Notifications[0].ID)
	assert.Equal(t, second.ID, all.Notifications[1].ID)
	assert.Equal(t, first.ID, all.Notifications[2].ID)
	assert.Equal(t, int64(2), all.PendingCount)

	own, err := f.svc.List(ctx, domain.ListRequest{Viewer: ayse})
	require.NoError(t, err)
	require.Len(t, own.Notifications, 2)
	for _, n := range own.Notifications {
		assert.Equal(t, ayse.UserID, n.UserID)
	}
	assert.Equal(t, int64(2), own.PendingCount)

	pending, err := f.svc.List(ctx, domain.ListRequest{Viewer: admin, Status: "pending"})
	require.NoError(t, err)
	assert.Len(t, pending.Notifications, 2)

	_, err = f.svc.List(ctx, domain.ListRequest{Viewer: admin, Status: "rejected"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestListPaginatesWithCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.submit(t, ayse, fmt.Sprintf("A-%d", i), "50")
	}

	var seen []string
	token := ""
	for {
		page, err := f.svc.List(ctx, domain.ListRequest{
			Viewer:     ayse,
			Pagination: pagination.Pagination{PageSize: 2, PageToken: token},
		})
		require.NoError(t, err)
		for _, n := range page.Notifications {
			seen = append(seen, n.OrderNo)
		}
		if !page.HasMore {
			break
		}
		token = page.NextPageToken
	}
	assert.Equal(t, []string{"A-4", "A-3", "A-2", "A-1", "A-0"}, seen)
}

func TestGetHidesOtherUsersNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := f.submit(t, ayse, "A-1", "50")

	got, err := f.svc.Get(ctx, ayse, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = f.svc.Get(ctx, mehmet, n.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Get(ctx, admin, n.ID)
	assert.NoError(t, err)
}

func TestReceiptForApprovedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := f.submit(t, ayse, "SIP 77", "100")

	_, err := f.svc.Receipt(ctx, ayse, n.ID)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	_, err = f.svc.Approve(ctx, domain.ApproveRequest{Admin: admin, ID: n.ID})
	require.NoError(t, err)

	receipt, err := f.svc.Receipt(ctx, ayse, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "shorty-makbuz-sip-77-"+n.ID.String()+".pdf", receipt.Filename)

	body, err := io.ReadAll(receipt.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	_, err = f.svc.Receipt(ctx, mehmet, n.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWatchScopesFeedByRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, mehmet, "M-1", "50")

	sub, snapshot, err := f.svc.Watch(ctx, ayse)
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, snapshot.Notifications)
	assert.Equal(t, liveevents.UserPaymentsTopic(ayse.UserID), sub.Topic())

	adminSub, adminSnapshot, err := f.svc.Watch(ctx, admin)
	require.NoError(t, err)
	defer adminSub.Close()
	assert.Len(t, adminSnapshot.Notifications, 1)
	assert.Equal(t, liveevents.AllPaymentsTopic, adminSub.Topic())

	f.submit(t, ayse, "A-1", "50")
	select {
	case event := <-sub.Events():
		assert.Equal(t, liveevents.TypePaymentSubmitted, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected own submission on the owner feed")
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// one connection serializes writers the way row locks do on postgres
	sqlDB.SetMaxOpenConns(1)

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
		`CREATE TABLE payment_notifications (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			order_no TEXT NOT NULL,
			tier TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			credits_granted BIGINT NOT NULL DEFAULT 0,
			approved_by TEXT,
			approved_at TIMESTAMP,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
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
