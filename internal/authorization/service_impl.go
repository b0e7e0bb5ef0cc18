package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleUser  = "role:user"
	RoleAdmin = "role:admin"
)

const (
	ObjectPayment = "payment"
	ObjectProfile = "profile"
	ObjectCredit  = "credit"
)

const (
	ActionPaymentSubmit  = "payment.submit"
	ActionPaymentViewOwn = "payment.view_own"
	ActionPaymentViewAll = "payment.view_all"
	ActionPaymentApprove = "payment.approve"

	ActionProfileView   = "profile.view"
	ActionProfileManage = "profile.manage"

	ActionCreditView    = "credit.view"
	ActionCreditConsume = "credit.consume"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, err := subjectForRole(actor.Role)
	if err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("user_id", actor.UserID),
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func subjectForRole(role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "user", "admin":
		return fmt.Sprintf("role:%s", role), nil
	default:
		return "", ErrInvalidActor
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleUser, ObjectPayment, ActionPaymentSubmit},
		{RoleUser, ObjectPayment, ActionPaymentViewOwn},
		{RoleUser, ObjectProfile, ActionProfileView},
		{RoleUser, ObjectCredit, ActionCreditView},
		{RoleUser, ObjectCredit, ActionCreditConsume},

		{RoleAdmin, ObjectPayment, ActionPaymentApprove},
		{RoleAdmin, ObjectPayment, ActionPaymentViewAll},
		{RoleAdmin, ObjectProfile, ActionProfileManage},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// admins can do everything users can
	if _, err := enforcer.AddGroupingPolicy(RoleAdmin, RoleUser); err != nil {
		return err
	}
	return nil
}
