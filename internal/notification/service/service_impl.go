package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/linkrent/linkrent/internal/clock"
	notificationdomain "github.com/linkrent/linkrent/internal/notification/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Redis *redis.Client `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	redis *redis.Client
}

func NewService(p Params) notificationdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
		redis: p.Redis,
	}
}

func (s *Service) Notify(ctx context.Context, tx *gorm.DB, msg notificationdomain.Message) error {
	if msg.UserID == 0 || msg.Type == "" {
		return nil
	}

	if msg.DedupeKey != "" {
		sent, err := s.alreadySent(ctx, msg)
		if err != nil {
			s.log.Warn("notification dedupe check failed", zap.String("key", msg.DedupeKey), zap.Error(err))
		}
		if sent {
			return nil
		}
	}

	entry := notificationdomain.Notification{
		ID:        s.genID.Generate(),
		UserID:    msg.UserID,
		Type:      msg.Type,
		Title:     msg.Title,
		Message:   msg.Body,
		RefType:   msg.RefType,
		RefID:     msg.RefID,
		DedupeKey: msg.DedupeKey,
		Metadata:  datatypes.JSONMap(msg.Metadata),
		CreatedAt: s.clock.Now(),
	}

	conn := tx
	if conn == nil {
		conn = s.db
	}
	if err := conn.WithContext(ctx).Create(&entry).Error; err != nil {
		s.log.Warn("failed to record notification",
			zap.String("type", string(msg.Type)),
			zap.String("user_id", msg.UserID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// alreadySent guards reminder-style notifications against duplicate
// delivery. Redis SETNX is preferred when a client is configured; the
// notifications table itself is the fallback so dedupe survives without
// redis.
func (s *Service) alreadySent(ctx context.Context, msg notificationdomain.Message) (bool, error) {
	ttl := msg.DedupeTTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}

	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, "notify:dedupe:"+msg.DedupeKey, 1, ttl).Result()
		if err == nil {
			return !ok, nil
		}
		// fall through to the DB check on redis failure
	}

	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM notifications WHERE dedupe_key = ? AND created_at >= ?`,
		msg.DedupeKey,
		s.clock.Now().Add(-ttl),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
