package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shortyai/creditdesk/internal/clock"
	creditdomain "github.com/shortyai/creditdesk/internal/credit/domain"
	"github.com/shortyai/creditdesk/internal/liveevents"
	obsmetrics "github.com/shortyai/creditdesk/internal/observability/metrics"
	"github.com/shortyai/creditdesk/internal/payment/domain"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	"github.com/shortyai/creditdesk/internal/providers/email"
	"github.com/shortyai/creditdesk/internal/providers/pdf"
	"github.com/shortyai/creditdesk/internal/tier"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	issuerName       = "Shorty.AI"
	emailSendTimeout = 10 * time.Second
	receiptTimeFmt   = "02.01.2006 15:04"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Tiers      tier.Source
	CreditSvc  creditdomain.Service
	ProfileSvc profiledomain.Service
	Hub        *liveevents.Hub
	Publisher  liveevents.Publisher
	Email      email.Provider      `optional:"true"`
	PDF        pdf.Provider        `optional:"true"`
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	tiers      tier.Source
	creditSvc  creditdomain.Service
	profileSvc profiledomain.Service
	hub        *liveevents.Hub
	publisher  liveevents.Publisher
	email      email.Provider
	pdf        pdf.Provider
	metrics    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	mailer := p.Email
	if mailer == nil {
		mailer = &email.NoOpProvider{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		tiers:      p.Tiers,
		creditSvc:  p.CreditSvc,
		profileSvc: p.ProfileSvc,
		hub:        p.Hub,
		publisher:  p.Publisher,
		email:      mailer,
		pdf:        p.PDF,
		metrics:    p.Metrics,
	}
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.Notification, error) {
	userID := strings.TrimSpace(req.Viewer.UserID)
	if userID == "" {
		return domain.Notification{}, domain.ErrInvalidUser
	}
	orderNo := strings.TrimSpace(req.OrderNo)
	if orderNo == "" {
		return domain.Notification{}, domain.ErrInvalidOrderNo
	}
	if len([]rune(orderNo)) > domain.MaxOrderNoLength {
		return domain.Notification{}, domain.ErrOrderNoTooLong
	}
	if strings.TrimSpace(req.Tier) == "" {
		return domain.Notification{}, domain.ErrInvalidTier
	}
	t, err := tier.Parse(req.Tier)
	if err != nil {
		return domain.Notification{}, domain.ErrInvalidTier
	}

	userName := strings.TrimSpace(req.Viewer.Name)
	if userName == "" {
		userName = profiledomain.DefaultName
	}

	now := s.clock.Now()
	n := domain.Notification{
		ID:        s.genID.Generate(),
		UserID:    userID,
		UserName:  userName,
		OrderNo:   orderNo,
		Tier:      t,
		Status:    domain.StatusPending,
		Timestamp: now.UnixMilli(),
		Metadata:  submitMetadata(req),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &n); err != nil {
		return domain.Notification{}, err
	}

	s.log.Info("payment notification submitted",
		zap.String("payment_id", n.ID.String()),
		zap.String("user_id", userID),
		zap.String("tier", t.String()),
	)
	s.metrics.RecordPaymentSubmitted(ctx, t.String())
	s.publish(ctx, liveevents.TypePaymentSubmitted, n)
	return n, nil
}

func submitMetadata(req domain.SubmitRequest) datatypes.JSONMap {
	meta := datatypes.JSONMap{}
	if ua := strings.TrimSpace(req.UserAgent); ua != "" {
		meta["user_agent"] = ua
	}
	if ip := strings.TrimSpace(req.ClientIP); ip != "" {
		meta["client_ip"] = ip
	}
	return meta
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if strings.TrimSpace(req.Viewer.UserID) == "" {
		return domain.ListResponse{}, domain.ErrInvalidUser
	}

	filter := domain.ListFilter{}
	if !req.Viewer.Admin {
		filter.UserID = req.Viewer.UserID
	}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = domain.Status(status)
		if !filter.Status.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}

	limit := req.Pagination.Size()
	items, err := s.repo.List(ctx, s.db, filter, cursor, limit+1)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(n *domain.Notification) pagination.Cursor {
		return pagination.Cursor{ID: int64(n.ID), SortKey: n.Timestamp}
	})

	pending, err := s.repo.CountPending(ctx, s.db, filter.UserID)
	if err != nil {
		return domain.ListResponse{}, err
	}

	notifications := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		notifications = append(notifications, *item)
	}
	return domain.ListResponse{
		PageInfo:      pageInfo,
		PendingCount:  pending,
		Notifications: notifications,
	}, nil
}

func (s *Service) Get(ctx context.Context, viewer domain.Viewer, id snowflake.ID) (domain.Notification, error) {
	if strings.TrimSpace(viewer.UserID) == "" {
		return domain.Notification{}, domain.ErrInvalidUser
	}
	if id == 0 {
		return domain.Notification{}, domain.ErrInvalidID
	}
	n, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Notification{}, err
	}
	// other users' notifications are reported as missing
	if n == nil || (!viewer.Admin && n.UserID != viewer.UserID) {
		return domain.Notification{}, domain.ErrNotFound
	}
	return *n, nil
}

func (s *Service) Approve(ctx context.Context, req domain.ApproveRequest) (domain.Notification, error) {
	adminID := strings.TrimSpace(req.Admin.UserID)
	if adminID == "" {
		return domain.Notification{}, domain.ErrInvalidUser
	}
	if !req.Admin.Admin {
		return domain.Notification{}, domain.ErrForbidden
	}
	if req.ID == 0 {
		return domain.Notification{}, domain.ErrInvalidID
	}

	catalog := s.tiers.Catalog()
	var approved domain.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.FindByID(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if n == nil {
			return domain.ErrNotFound
		}
		if !n.IsPending() {
			return domain.ErrAlreadyApproved
		}

		def, err := catalog.Lookup(n.Tier)
		if err != nil {
			return fmt.Errorf("payment %s: %w", n.ID, domain.ErrInvalidTier)
		}

		now := s.clock.Now()
		rows, err := s.repo.MarkApproved(ctx, tx, n.ID, adminID, def.Credits, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrAlreadyApproved
		}

		_, err = s.creditSvc.Grant(ctx, tx, creditdomain.GrantRequest{
			UserID:     n.UserID,
			Amount:     def.Credits,
			SourceType: creditdomain.SourcePayment,
			SourceID:   n.ID.String(),
			Metadata: map[string]any{
				"tier":        n.Tier.String(),
				"order_no":    n.OrderNo,
				"approved_by": adminID,
			},
		})
		switch {
		case errors.Is(err, creditdomain.ErrDuplicateEntry):
			return domain.ErrAlreadyApproved
		case errors.Is(err, creditdomain.ErrProfileNotFound):
			return domain.ErrOwnerNotFound
		case err != nil:
			return err
		}

		approved = *n
		approved.Status = domain.StatusApproved
		approved.CreditsGranted = def.Credits
		approved.ApprovedBy = &adminID
		approved.ApprovedAt = &now
		approved.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Notification{}, err
	}

	s.log.Info("payment approved",
		zap.String("payment_id", approved.ID.String()),
		zap.String("user_id", approved.UserID),
		zap.String("approved_by", adminID),
		zap.Int64("credits", approved.CreditsGranted),
	)
	s.metrics.RecordPaymentApproved(ctx, approved.Tier.String(), approved.CreditsGranted)
	s.publish(ctx, liveevents.TypePaymentApproved, approved)
	if err := s.profileSvc.Notify(ctx, approved.UserID); err != nil {
		s.log.Warn("notify profile failed", zap.String("user_id", approved.UserID), zap.Error(err))
	}
	s.sendApprovalEmail(ctx, approved, catalog)
	return approved, nil
}

func (s *Service) sendApprovalEmail(ctx context.Context, n domain.Notification, catalog tier.Catalog) {
	owner, err := s.profileSvc.Get(ctx, n.UserID)
	if err != nil || strings.TrimSpace(owner.Email) == "" {
		return
	}

	label := n.Tier.String()
	if def, err := catalog.Lookup(n.Tier); err == nil {
		label = def.Label
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailSendTimeout)
	defer cancel()
	err = s.email.SendTemplate(sendCtx, []string{owner.Email}, "payment_approved", map[string]any{
		"name":       owner.Name,
		"order_no":   n.OrderNo,
		"credits":    n.CreditsGranted,
		"tier_label": label,
	})
	if err != nil {
		s.log.Warn("approval email failed", zap.String("payment_id", n.ID.String()), zap.Error(err))
	}
}

func (s *Service) Receipt(ctx context.Context, viewer domain.Viewer, id snowflake.ID) (domain.Receipt, error) {
	if s.pdf == nil {
		return domain.Receipt{}, domain.ErrReceiptUnavailable
	}
	n, err := s.Get(ctx, viewer, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if n.Status != domain.StatusApproved {
		return domain.Receipt{}, domain.ErrNotApproved
	}

	data := pdf.ReceiptData{
		ReceiptNumber: n.ID.String(),
		IssuerName:    issuerName,
		CustomerName:  n.UserName,
		OrderNo:       n.OrderNo,
		TierLabel:     n.Tier.String(),
		Credits:       n.CreditsGranted,
		SubmittedAt:   time.UnixMilli(n.Timestamp).UTC().Format(receiptTimeFmt),
	}
	if n.ApprovedAt != nil {
		data.ApprovedAt = n.ApprovedAt.UTC().Format(receiptTimeFmt)
	}
	if def, err := s.tiers.Catalog().Lookup(n.Tier); err == nil {
		data.TierLabel = def.Label
		data.Price = strconv.FormatInt(def.Price, 10) + " " + def.Currency
	}
	if owner, err := s.profileSvc.Get(ctx, n.UserID); err == nil {
		data.CustomerEmail = owner.Email
	}

	body, err := s.pdf.GenerateReceipt(ctx, data)
	if err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{
		Filename: receiptFilename(n),
		Body:     body,
	}, nil
}

func receiptFilename(n domain.Notification) string {
	name := slug.Make(fmt.Sprintf("shorty makbuz %s %s", n.OrderNo, n.ID.String()))
	return name + ".pdf"
}

func (s *Service) Watch(ctx context.Context, viewer domain.Viewer) (*liveevents.Subscription, domain.ListResponse, error) {
	if strings.TrimSpace(viewer.UserID) == "" {
		return nil, domain.ListResponse{}, domain.ErrInvalidUser
	}
	topic := liveevents.UserPaymentsTopic(viewer.UserID)
	if viewer.Admin {
		topic = liveevents.AllPaymentsTopic
	}

	sub, _, err := s.hub.Subscribe(topic)
	if err != nil {
		return nil, domain.ListResponse{}, err
	}
	snapshot, err := s.List(ctx, domain.ListRequest{Viewer: viewer})
	if err != nil {
		sub.Close()
		return nil, domain.ListResponse{}, err
	}
	return sub, snapshot, nil
}

// publish fans the notification out to the admin feed and the owner's feed.
func (s *Service) publish(ctx context.Context, eventType string, n domain.Notification) {
	if s.publisher == nil {
		return
	}
	for _, topic := range []string{liveevents.AllPaymentsTopic, liveevents.UserPaymentsTopic(n.UserID)} {
		if err := s.publisher.Publish(ctx, topic, eventType, n); err != nil {
			s.log.Warn("publish payment event failed",
				zap.String("topic", topic),
				zap.String("payment_id", n.ID.String()),
				zap.Error(err),
			)
		}
	}
}
