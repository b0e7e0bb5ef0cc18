package service

import (
	"context"
	"strings"

	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/config"
	"github.com/shortyai/creditdesk/internal/liveevents"
	"github.com/shortyai/creditdesk/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Clock     clock.Clock
	Hub       *liveevents.Hub
	Publisher liveevents.Publisher
	Repo      domain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       config.Config
	clock     clock.Clock
	hub       *liveevents.Hub
	publisher liveevents.Publisher
	repo      domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("profile.service"),
		cfg:       p.Cfg,
		clock:     p.Clock,
		hub:       p.Hub,
		publisher: p.Publisher,
		repo:      p.Repo,
	}
}

func (s *Service) Ensure(ctx context.Context, req domain.EnsureRequest) (domain.Profile, bool, error) {
	uid := strings.TrimSpace(req.UID)
	if uid == "" {
		return domain.Profile{}, false, domain.ErrInvalidUID
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = domain.DefaultName
	}
	email := strings.TrimSpace(req.Email)

	role := domain.RoleUser
	if s.cfg.IsBootstrapAdmin(email) {
		role = domain.RoleAdmin
	}

	now := s.clock.Now()
	candidate := domain.Profile{
		UID:          uid,
		Name:         name,
		Email:        email,
		Credits:      domain.InitialCredits,
		Role:         role,
		IsAuthorized: false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.repo.InsertIfAbsent(ctx, s.db, &candidate)
	if err != nil {
		return domain.Profile{}, false, err
	}

	stored, err := s.repo.FindByUID(ctx, s.db, uid)
	if err != nil {
		return domain.Profile{}, false, err
	}
	if stored == nil {
		return domain.Profile{}, false, domain.ErrNotFound
	}

	if created {
		s.log.Info("profile created",
			zap.String("uid", uid),
			zap.String("role", string(stored.Role)),
		)
		s.publish(ctx, *stored)
	}
	return *stored, created, nil
}

func (s *Service) Get(ctx context.Context, uid string) (domain.Profile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.Profile{}, domain.ErrInvalidUID
	}
	stored, err := s.repo.FindByUID(ctx, s.db, uid)
	if err != nil {
		return domain.Profile{}, err
	}
	if stored == nil {
		return domain.Profile{}, domain.ErrNotFound
	}
	return *stored, nil
}

func (s *Service) Watch(ctx context.Context, uid string) (*liveevents.Subscription, domain.Profile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, domain.Profile{}, domain.ErrInvalidUID
	}
	sub, _, err := s.hub.Subscribe(liveevents.ProfileTopic(uid))
	if err != nil {
		return nil, domain.Profile{}, err
	}
	snapshot, err := s.Get(ctx, uid)
	if err != nil {
		sub.Close()
		return nil, domain.Profile{}, err
	}
	return sub, snapshot, nil
}

func (s *Service) SetRole(ctx context.Context, req domain.SetRoleRequest) (domain.Profile, error) {
	uid := strings.TrimSpace(req.UID)
	if uid == "" {
		return domain.Profile{}, domain.ErrInvalidUID
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		return domain.Profile{}, domain.ErrInvalidRole
	}

	rows, err := s.repo.UpdateRole(ctx, s.db, uid, role, s.clock.Now())
	if err != nil {
		return domain.Profile{}, err
	}
	if rows == 0 {
		return domain.Profile{}, domain.ErrNotFound
	}

	updated, err := s.Get(ctx, uid)
	if err != nil {
		return domain.Profile{}, err
	}
	s.log.Info("profile role changed", zap.String("uid", uid), zap.String("role", string(role)))
	s.publish(ctx, updated)
	return updated, nil
}

func (s *Service) Notify(ctx context.Context, uid string) error {
	current, err := s.Get(ctx, uid)
	if err != nil {
		return err
	}
	s.publish(ctx, current)
	return nil
}

func (s *Service) publish(ctx context.Context, p domain.Profile) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, liveevents.ProfileTopic(p.UID), liveevents.TypeProfileUpdated, p); err != nil {
		s.log.Warn("publish profile failed", zap.String("uid", p.UID), zap.Error(err))
	}
}
