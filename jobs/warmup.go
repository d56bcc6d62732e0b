package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealerdesk/dealerdesk/internal/authz"
)

// WarmupJob pre-resolves effective permission sets after bulk configuration
// edits so the first page load of each affected user hits a warm cache.
type WarmupJob struct {
	Cache  *authz.Cache
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// NewWarmupJob wires dependencies for the warmup handler.
func NewWarmupJob(cache *authz.Cache, pool *pgxpool.Pool, logger *slog.Logger) *WarmupJob {
	return &WarmupJob{Cache: cache, Pool: pool, Logger: logger}
}

// Handle processes authz warmup tasks.
func (j *WarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil || j.Pool == nil {
		return errors.New("authz warmup: handler not configured")
	}
	var payload WarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger().With(slog.Int64("dealer_id", payload.DealerID), slog.Int64("role_id", payload.RoleID))
	start := time.Now()

	pairs, err := j.fetchPairs(ctx, payload)
	if err != nil {
		logger.Error("load warmup pairs", slog.Any("error", err))
		return err
	}
	if len(pairs) == 0 {
		logger.Info("no assignments to warm")
		return nil
	}

	warmed := 0
	for _, pair := range pairs {
		pairCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := j.Cache.GetOrResolve(pairCtx, pair.UserID, pair.DealerID)
		cancel()
		if err != nil {
			logger.Error("warm pair", slog.Int64("user_id", pair.UserID), slog.Int64("pair_dealer_id", pair.DealerID), slog.Any("error", err))
			return err
		}
		warmed++
	}

	logger.Info("completed authz warmup", slog.Int("pairs", warmed), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *WarmupJob) fetchPairs(ctx context.Context, payload WarmupPayload) ([]authz.Assignment, error) {
	query := `SELECT DISTINCT user_id, dealer_id FROM dealer_role_assignments ORDER BY dealer_id, user_id`
	args := []any{}
	switch {
	case payload.RoleID != 0:
		query = `SELECT DISTINCT user_id, dealer_id FROM dealer_role_assignments WHERE role_id = $1 ORDER BY user_id`
		args = append(args, payload.RoleID)
	case payload.DealerID != 0:
		query = `SELECT DISTINCT user_id, dealer_id FROM dealer_role_assignments WHERE dealer_id = $1 ORDER BY user_id`
		args = append(args, payload.DealerID)
	}
	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []authz.Assignment
	for rows.Next() {
		var a authz.Assignment
		if err := rows.Scan(&a.UserID, &a.DealerID); err != nil {
			return nil, err
		}
		pairs = append(pairs, a)
	}
	return pairs, rows.Err()
}

func (j *WarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuthzWarmup))
	}
	return slog.Default().With(slog.String("job", TaskAuthzWarmup))
}
