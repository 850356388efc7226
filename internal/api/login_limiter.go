package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"studyhub/internal/errcode"
	"studyhub/internal/metrics"
)

// LoginLimits 控制登录限流与锁定。
type LoginLimits struct {
	PerHour       int
	LockThreshold int
	LockTTL       time.Duration
}

// loginLimiter 在 Redis 中维护两类计数：按小时分桶的 IP+邮箱尝试次数，以及按邮箱累计的失败次数。
// 失败次数达到阈值后写入锁定 key，锁定期间即使口令正确也拒绝登录。
type loginLimiter struct {
	redis  redis.UniversalClient
	limits LoginLimits
	now    func() time.Time
}

func newLoginLimiter(client redis.UniversalClient, limits LoginLimits) *loginLimiter {
	return &loginLimiter{redis: client, limits: limits, now: time.Now}
}

func rateKey(ip, email string, at time.Time) string {
	return "rate:login:" + ip + ":" + email + ":" + at.UTC().Format("2006010215")
}

func lockKey(email string) string { return "lock:login:" + email }
func failKey(email string) string { return "lock:login:fail:" + email }

// incrWithTTL 自增计数，首次创建时设置过期时间。
func incrWithTTL(ctx context.Context, client redis.Cmdable, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// admit 记录一次登录尝试并判断是否放行。Redis 不可用时放行，不因限流组件故障阻断登录。
func (l *loginLimiter) admit(ctx context.Context, ip, email string, logger *slog.Logger) error {
	count, err := incrWithTTL(ctx, l.redis, rateKey(ip, email, l.now()), time.Hour)
	if err != nil {
		logger.Warn("login rate counter unavailable", slog.Any("error", err))
		return nil
	}
	if l.limits.PerHour > 0 && count > int64(l.limits.PerHour) {
		metrics.RecordLoginRejected("rate_limited")
		return errcode.New(errcode.RateLimited, "Too many login attempts, try again later")
	}

	if ttl, _ := l.redis.TTL(ctx, lockKey(email)).Result(); ttl > 0 {
		metrics.RecordLoginRejected("locked")
		return errcode.New(errcode.RateLimited, "Account temporarily locked")
	}
	return nil
}

// fail 累计一次口令错误，达到阈值时锁定账号。
func (l *loginLimiter) fail(ctx context.Context, email string, logger *slog.Logger) {
	metrics.RecordLoginRejected("invalid_credentials")
	count, err := incrWithTTL(ctx, l.redis, failKey(email), l.limits.LockTTL)
	if err != nil {
		logger.Warn("login failure counter unavailable", slog.Any("error", err))
		return
	}
	if l.limits.LockThreshold > 0 && count >= int64(l.limits.LockThreshold) {
		_ = l.redis.Set(ctx, lockKey(email), "1", l.limits.LockTTL).Err()
		logger.Warn("account locked after repeated failures", slog.Int64("failures", count))
	}
}

// succeed 登录成功后清空失败计数。
func (l *loginLimiter) succeed(ctx context.Context, email string) {
	_ = l.redis.Del(ctx, failKey(email)).Err()
}
