package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/models"
)

const (
	progressKeyPrefix  = "job:progress:"
	logBufferKeyPrefix = "logs:buffer:"
	tokenKeyPrefix     = "ws:token:"
)

// progressTTL keeps finished jobs' progress visible briefly after completion.
const progressTTL = 24 * time.Hour

// maxBufferedLogs bounds the per-job log ring buffer.
const maxBufferedLogs = 1000

// ProgressService publishes live job progress, buffers recent log lines per
// job, and issues single-use tokens for streaming consumers.
type ProgressService struct {
	client   *redis.Client
	tokenTTL time.Duration
	logger   arbor.ILogger
}

// NewProgressService creates a progress service. tokenTTL bounds how long an
// issued streaming token stays redeemable.
func NewProgressService(client *redis.Client, tokenTTL time.Duration, logger arbor.ILogger) *ProgressService {
	if tokenTTL <= 0 {
		tokenTTL = 5 * time.Minute
	}
	return &ProgressService{client: client, tokenTTL: tokenTTL, logger: logger}
}

// PublishProgress overwrites the progress snapshot for a job.
func (s *ProgressService) PublishProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.client.SetEx(ctx, progressKeyPrefix+jobID, data, progressTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to publish job progress")
		return err
	}
	return nil
}

// GetProgress returns the latest progress snapshot for a job, or absent.
func (s *ProgressService) GetProgress(ctx context.Context, jobID string) (*models.JobProgress, bool) {
	val, err := s.client.Get(ctx, progressKeyPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to read job progress")
		return nil, false
	}

	var progress models.JobProgress
	if err := json.Unmarshal([]byte(val), &progress); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Corrupt job progress payload")
		return nil, false
	}
	return &progress, true
}

// AppendLog pushes a log line onto the job's ring buffer, trimming to the
// newest maxBufferedLogs entries.
func (s *ProgressService) AppendLog(ctx context.Context, jobID, line string) error {
	key := logBufferKeyPrefix + jobID

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, line)
	pipe.LTrim(ctx, key, 0, maxBufferedLogs-1)
	pipe.Expire(ctx, key, progressTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to buffer job log line")
		return err
	}
	return nil
}

// RecentLogs returns up to limit buffered lines, newest first.
func (s *ProgressService) RecentLogs(ctx context.Context, jobID string, limit int) ([]string, error) {
	if limit <= 0 || limit > maxBufferedLogs {
		limit = maxBufferedLogs
	}
	lines, err := s.client.LRange(ctx, logBufferKeyPrefix+jobID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read log buffer: %w", err)
	}
	return lines, nil
}

// LogCount returns the number of buffered lines for a job.
func (s *ProgressService) LogCount(ctx context.Context, jobID string) int {
	n, err := s.client.LLen(ctx, logBufferKeyPrefix+jobID).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// IssueToken mints a single-use streaming token bound to a job.
func (s *ProgressService) IssueToken(ctx context.Context, jobID string) (string, error) {
	token := common.NewID()
	if err := s.client.SetEx(ctx, tokenKeyPrefix+token, jobID, s.tokenTTL).Err(); err != nil {
		return "", fmt.Errorf("store streaming token: %w", err)
	}
	return token, nil
}

// RedeemToken atomically consumes a token and returns the job it was bound
// to. A token redeems at most once; GETDEL guarantees it even under
// concurrent redeemers.
func (s *ProgressService) RedeemToken(ctx context.Context, token string) (string, bool) {
	jobID, err := s.client.GetDel(ctx, tokenKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Token redemption failed")
		return "", false
	}
	return jobID, true
}
