package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/credit/domain"
	obsmetrics "github.com/shortyai/creditdesk/internal/observability/metrics"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxRunIDLength = 128

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	ProfileSvc profiledomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	profileSvc profiledomain.Service
	metrics    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		profileSvc: p.ProfileSvc,
		metrics:    p.Metrics,
	}
}

func (s *Service) Grant(ctx context.Context, tx *gorm.DB, req domain.GrantRequest) (domain.Entry, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.Entry{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.Entry{}, domain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.SourceType) == "" || strings.TrimSpace(req.SourceID) == "" {
		return domain.Entry{}, domain.ErrInvalidSource
	}
	if tx == nil {
		tx = s.db
	}

	var entry domain.Entry
	// nested Transaction becomes a savepoint when tx is already open
	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		rows, err := s.repo.AdjustBalance(ctx, tx, userID, req.Amount, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrProfileNotFound
		}

		after, _, err := s.repo.Balance(ctx, tx, userID)
		if err != nil {
			return err
		}

		entry = domain.Entry{
			ID:            s.genID.Generate(),
			UserID:        userID,
			Kind:          domain.KindGrant,
			Amount:        req.Amount,
			BalanceBefore: after - req.Amount,
			BalanceAfter:  after,
			SourceType:    req.SourceType,
			SourceID:      req.SourceID,
			Metadata:      datatypes.JSONMap(req.Metadata),
			CreatedAt:     now,
		}
		inserted, err := s.repo.InsertEntry(ctx, tx, &entry)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrDuplicateEntry
		}
		return nil
	})
	if err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

func (s *Service) Consume(ctx context.Context, req domain.ConsumeRequest) (domain.ConsumeResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.ConsumeResult{}, domain.ErrInvalidUser
	}
	runID := strings.TrimSpace(req.RunID)
	if len(runID) > maxRunIDLength {
		return domain.ConsumeResult{}, domain.ErrInvalidRunID
	}
	if runID == "" {
		runID = s.genID.Generate().String()
	}

	var result domain.ConsumeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindBySource(ctx, tx, domain.SourceGeneration, runID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.UserID != userID {
				return domain.ErrDuplicateEntry
			}
			result = domain.ConsumeResult{Entry: *existing, Replayed: true}
			return nil
		}

		now := s.clock.Now()
		rows, err := s.repo.AdjustBalance(ctx, tx, userID, -1, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			_, found, err := s.repo.Balance(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !found {
				return domain.ErrProfileNotFound
			}
			return domain.ErrInsufficientCredits
		}

		after, _, err := s.repo.Balance(ctx, tx, userID)
		if err != nil {
			return err
		}

		entry := domain.Entry{
			ID:            s.genID.Generate(),
			UserID:        userID,
			Kind:          domain.KindConsume,
			Amount:        -1,
			BalanceBefore: after + 1,
			BalanceAfter:  after,
			SourceType:    domain.SourceGeneration,
			SourceID:      runID,
			Metadata:      datatypes.JSONMap{},
			CreatedAt:     now,
		}
		inserted, err := s.repo.InsertEntry(ctx, tx, &entry)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrDuplicateEntry
		}
		result = domain.ConsumeResult{Entry: entry}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateEntry) {
		// a concurrent request with the same run id won; report its entry
		existing, findErr := s.repo.FindBySource(ctx, s.db, domain.SourceGeneration, runID)
		if findErr == nil && existing != nil && existing.UserID == userID {
			return domain.ConsumeResult{Entry: *existing, Replayed: true}, nil
		}
		return domain.ConsumeResult{}, err
	}
	if err != nil {
		return domain.ConsumeResult{}, err
	}

	if !result.Replayed {
		s.log.Info("credit consumed",
			zap.String("user_id", userID),
			zap.String("run_id", runID),
			zap.Int64("balance_after", result.Entry.BalanceAfter),
		)
		s.metrics.RecordCreditConsumed(ctx)
		if s.profileSvc != nil {
			if err := s.profileSvc.Notify(ctx, userID); err != nil {
				s.log.Warn("notify profile failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	return result, nil
}

func (s *Service) ListEntries(ctx context.Context, req domain.ListEntriesRequest) (domain.ListEntriesResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.ListEntriesResponse{}, domain.ErrInvalidUser
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}

	limit := req.Pagination.Size()
	items, err := s.repo.ListByUser(ctx, s.db, userID, cursor, limit+1)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(e *domain.Entry) pagination.Cursor {
		return pagination.Cursor{ID: int64(e.ID), SortKey: e.CreatedAt.UnixMilli()}
	})

	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}
	return domain.ListEntriesResponse{PageInfo: pageInfo, Entries: entries}, nil
}
