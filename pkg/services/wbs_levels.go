package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/models"
	"github.com/bildwerk/boq-engine/pkg/repositories"
)

// WbsLevelService exposes a project's WBS classification level settings to
// the reconciler and to the grid UI. Required-level lookups sit on the hot
// path of every bulk upsert, so they are served through a read-through Redis
// cache when one is configured.
type WbsLevelService interface {
	// RequiredLevels returns the enabled, required level keys in configured
	// order.
	RequiredLevels(ctx context.Context, projectID uuid.UUID) ([]string, error)

	// ListSettings returns all level settings for the project.
	ListSettings(ctx context.Context, projectID uuid.UUID) ([]*models.WbsLevelSetting, error)
}

type wbsLevelService struct {
	wbsRepo  repositories.WbsLevelRepository
	redis    *redis.Client // nil disables caching
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewWbsLevelService creates a new WbsLevelService. A nil Redis client
// disables caching; every lookup then goes to Postgres.
func NewWbsLevelService(wbsRepo repositories.WbsLevelRepository, redisClient *redis.Client, cacheTTL time.Duration, logger *zap.Logger) WbsLevelService {
	return &wbsLevelService{
		wbsRepo:  wbsRepo,
		redis:    redisClient,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func requiredLevelsCacheKey(projectID uuid.UUID) string {
	return fmt.Sprintf("wbs:required:%s", projectID)
}

func (s *wbsLevelService) RequiredLevels(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, requiredLevelsCacheKey(projectID)).Result()
		if err == nil {
			var keys []string
			if err := json.Unmarshal([]byte(cached), &keys); err == nil {
				return keys, nil
			}
			// Unreadable cache entry; fall through to the database.
		} else if err != redis.Nil {
			s.logger.Warn("WBS level cache read failed, falling back to database",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
		}
	}

	keys, err := s.wbsRepo.RequiredLevelKeys(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		payload, err := json.Marshal(keys)
		if err == nil {
			if err := s.redis.Set(ctx, requiredLevelsCacheKey(projectID), payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn("WBS level cache write failed",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
			}
		}
	}
	return keys, nil
}

func (s *wbsLevelService) ListSettings(ctx context.Context, projectID uuid.UUID) ([]*models.WbsLevelSetting, error) {
	return s.wbsRepo.ListByProject(ctx, projectID)
}
