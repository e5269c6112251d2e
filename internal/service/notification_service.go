package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campushq/portal-api/internal/models"
	appErrors "github.com/campushq/portal-api/pkg/errors"
)

type notificationRepo interface {
	CreateBroadcast(ctx context.Context, message *models.Message, recipients []string) ([]models.NotificationDelivery, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]models.NotificationItem, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	FindDelivery(ctx context.Context, id string) (*models.NotificationDelivery, error)
	MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error)
}

type rosterResolver interface {
	StudentsOf(ctx context.Context, course string) ([]string, error)
	AllStudents(ctx context.Context) ([]string, error)
}

// BroadcastRequest is a teacher-authored message plus its target.
type BroadcastRequest struct {
	Title      string `json:"title" validate:"required"`
	Body       string `json:"body" validate:"required"`
	TargetType string `json:"target_type" validate:"required,target_type"`
	Target     string `json:"target"`
}

// BroadcastResponse reports the fan-out outcome.
type BroadcastResponse struct {
	MessageID  string `json:"message_id"`
	Recipients int    `json:"recipients"`
}

// NotificationFeed is a recipient's deliveries plus the unread tally.
type NotificationFeed struct {
	Items       []models.NotificationItem `json:"items"`
	UnreadCount int                       `json:"unread_count"`
}

// NotificationService expands authored messages into per-recipient delivery
// rows and manages their read state. Unread counts are cached in Redis and
// kept consistent with the conditional mark-read transition.
type NotificationService struct {
	deliveries notificationRepo
	roster     rosterResolver
	cache      *redis.Client
	cacheTTL   time.Duration
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewNotificationService constructs the service. The cache client may be nil;
// unread counts then always come from the store.
func NewNotificationService(deliveries notificationRepo, roster rosterResolver, cache *redis.Client, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	svc := &NotificationService{deliveries: deliveries, roster: roster, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
	svc.validator.RegisterValidation("target_type", func(fl validator.FieldLevel) bool {
		switch models.MessageTarget(strings.ToUpper(fl.Field().String())) {
		case models.TargetStudent, models.TargetCourse, models.TargetAll:
			return true
		default:
			return false
		}
	})
	return svc
}

// Broadcast authors one message and fans it out to every resolved recipient
// in a single all-or-nothing batch.
func (s *NotificationService) Broadcast(ctx context.Context, session *models.Session, req BroadcastRequest) (*BroadcastResponse, error) {
	if session == nil || session.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher role required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid broadcast payload")
	}

	targetType := models.MessageTarget(strings.ToUpper(req.TargetType))
	recipients, err := s.resolveRecipients(ctx, targetType, req.Target)
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		SenderID:   session.Identity.ID,
		Title:      req.Title,
		Body:       req.Body,
		TargetType: targetType,
		Target:     req.Target,
	}
	deliveries, err := s.deliveries.CreateBroadcast(ctx, message, recipients)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status, "notification fan-out failed, no deliveries recorded")
	}

	s.invalidateUnreadCounts(ctx, recipients)

	return &BroadcastResponse{MessageID: message.ID, Recipients: len(deliveries)}, nil
}

// ListFor returns the recipient's feed, newest first, plus the unread count.
// Recipients read only their own feed; admins may read any.
func (s *NotificationService) ListFor(ctx context.Context, session *models.Session, recipientID string) (*NotificationFeed, error) {
	if session == nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no capability")
	}
	if session.Role != models.RoleAdmin && session.Identity.ID != recipientID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "notifications belong to another recipient")
	}

	items, err := s.deliveries.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to list notifications")
	}

	unread, err := s.unreadCount(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return &NotificationFeed{Items: items, UnreadCount: unread}, nil
}

// MarkRead transitions a delivery to read exactly once. Marking an already
// read delivery is a no-op success.
func (s *NotificationService) MarkRead(ctx context.Context, session *models.Session, deliveryID string) error {
	if session == nil {
		return appErrors.Clone(appErrors.ErrForbidden, "no capability")
	}

	delivery, err := s.deliveries.FindDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "delivery not found")
		}
		return appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to load delivery")
	}
	if delivery.RecipientID != session.Identity.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "delivery belongs to another recipient")
	}

	transitioned, err := s.deliveries.MarkRead(ctx, deliveryID, time.Now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to mark delivery read")
	}
	if transitioned {
		s.decrementUnreadCount(ctx, delivery.RecipientID)
	}
	return nil
}

func (s *NotificationService) resolveRecipients(ctx context.Context, targetType models.MessageTarget, target string) ([]string, error) {
	switch targetType {
	case models.TargetStudent:
		if target == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "target required for STUDENT broadcasts")
		}
		return []string{target}, nil
	case models.TargetCourse:
		if target == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "target required for COURSE broadcasts")
		}
		students, err := s.roster.StudentsOf(ctx, target)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "roster lookup failed")
		}
		return students, nil
	default:
		students, err := s.roster.AllStudents(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "roster lookup failed")
		}
		return students, nil
	}
}

func (s *NotificationService) unreadCount(ctx context.Context, recipientID string) (int, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, unreadKey(recipientID)).Int()
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("unread cache read failed", zap.Error(err))
		}
	}

	count, err := s.deliveries.UnreadCount(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to count unread notifications")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, unreadKey(recipientID), count, s.cacheTTL).Err(); err != nil {
			s.logger.Warn("unread cache write failed", zap.Error(err))
		}
	}
	return count, nil
}

// decrementUnreadCount adjusts a warm cache entry by exactly one. A cold
// cache needs nothing; the next read recomputes from the store.
func (s *NotificationService) decrementUnreadCount(ctx context.Context, recipientID string) {
	if s.cache == nil {
		return
	}
	exists, err := s.cache.Exists(ctx, unreadKey(recipientID)).Result()
	if err != nil {
		s.logger.Warn("unread cache check failed", zap.Error(err))
		return
	}
	if exists == 0 {
		return
	}
	if err := s.cache.Decr(ctx, unreadKey(recipientID)).Err(); err != nil {
		s.logger.Warn("unread cache decrement failed", zap.Error(err))
	}
}

func (s *NotificationService) invalidateUnreadCounts(ctx context.Context, recipients []string) {
	if s.cache == nil || len(recipients) == 0 {
		return
	}
	keys := make([]string, len(recipients))
	for i, id := range recipients {
		keys[i] = unreadKey(id)
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("unread cache invalidation failed", zap.Error(err))
	}
}

func unreadKey(recipientID string) string {
	return "notifications:unread:" + recipientID
}
