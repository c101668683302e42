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
	ObjectEnrollment = "enrollment"
	ObjectReminder   = "reminder"
	ObjectCatalog    = "catalog"
	ObjectAudit      = "audit"
)

const (
	ActionEnrollmentView   = "enrollment.view"
	ActionEnrollmentUpdate = "enrollment.update"
	ActionEnrollmentStatus = "enrollment.status"
	ActionEnrollmentReview = "enrollment.review"
	ActionEnrollmentDelete = "enrollment.delete"
	ActionEnrollmentExport = "enrollment.export"

	ActionReminderView = "reminder.view"
	ActionReminderSend = "reminder.send"

	ActionCatalogView = "catalog.view"

	ActionAuditView = "audit.view"
)

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
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

// NewEnforcer loads policies from the casbin_rule table and seeds the
// built-in role grants.
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
	actor.Type = strings.TrimSpace(actor.Type)
	actor.ID = strings.TrimSpace(actor.ID)
	actor.Role = strings.ToLower(strings.TrimSpace(actor.Role))
	if actor.Type == "" || actor.ID == "" || actor.Role == "" {
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

	subject := actor.Subject()
	if err := s.ensureGrouping(subject, roleName(actor.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor_type", actor.Type),
			zap.String("actor_id", actor.ID),
			zap.String("role", actor.Role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	if shouldLogGrant(action) {
		s.log.Info("authorization granted",
			zap.String("actor_type", actor.Type),
			zap.String("actor_id", actor.ID),
			zap.String("action", action),
		)
	}
	return nil
}

func roleName(role string) string {
	return fmt.Sprintf("role:%s", role)
}

// ensureGrouping keeps exactly one role per subject; a token whose role
// changed in configuration loses the old grant.
func (s *ServiceImpl) ensureGrouping(subject string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func shouldLogGrant(action string) bool {
	switch action {
	case ActionEnrollmentDelete, ActionEnrollmentStatus:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleName(RoleAdmin), "*", "*"},

		{roleName(RoleStaff), ObjectEnrollment, ActionEnrollmentView},
		{roleName(RoleStaff), ObjectEnrollment, ActionEnrollmentReview},
		{roleName(RoleStaff), ObjectEnrollment, ActionEnrollmentExport},
		{roleName(RoleStaff), ObjectReminder, ActionReminderView},
		{roleName(RoleStaff), ObjectReminder, ActionReminderSend},
		{roleName(RoleStaff), ObjectCatalog, ActionCatalogView},

		{roleName(RoleSystem), ObjectReminder, ActionReminderSend},
		{roleName(RoleSystem), ObjectEnrollment, ActionEnrollmentReview},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
