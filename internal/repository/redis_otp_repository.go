package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/models"
)

// createOTPLua writes the email record and the code pointer together.
// KEYS[1] = email key, KEYS[2] = code key
// ARGV[1] = encoded record, ARGV[2] = email, ARGV[3] = ttl in milliseconds
var createOTPLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='exists'}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {err='code_taken'}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 'OK'
`)

// consumeOTPLua deletes both keys if the pointer still names the email.
// KEYS[1] = code key, KEYS[2] = email key
// ARGV[1] = email
var consumeOTPLua = redis.NewScript(`
local email = redis.call('GET', KEYS[1])
if not email or email ~= ARGV[1] then
  return {err='not_found'}
end
local data = redis.call('GET', KEYS[2])
redis.call('DEL', KEYS[1])
if not data then
  return {err='not_found'}
end
redis.call('DEL', KEYS[2])
return data
`)

// RedisOTPRepository keeps pending codes in Redis with key expiry doing the
// cleanup.
type RedisOTPRepository struct {
	client redis.UniversalClient
	prefix string
	logger *logrus.Logger
	now    func() time.Time
}

func NewRedisOTPRepository(client redis.UniversalClient, prefix string, logger *logrus.Logger) *RedisOTPRepository {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisOTPRepository{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

func (r *RedisOTPRepository) emailKey(email string) string {
	return r.prefix + ":email:" + email
}

func (r *RedisOTPRepository) codeKey(code string) string {
	return r.prefix + ":code:" + code
}

func (r *RedisOTPRepository) Create(ctx context.Context, otp models.OTP) error {
	ttl := otp.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("OTP already expired")
	}

	data, err := json.Marshal(otp)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	err = createOTPLua.Run(ctx, r.client,
		[]string{r.emailKey(otp.Email), r.codeKey(otp.Code)},
		string(data), otp.Email, ttl.Milliseconds(),
	).Err()
	if err != nil {
		switch err.Error() {
		case "exists":
			return ErrOTPExists
		case "code_taken":
			return ErrOTPCodeTaken
		}
		r.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *RedisOTPRepository) GetByEmail(ctx context.Context, email string) (*models.OTP, error) {
	data, err := r.client.Get(ctx, r.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	return r.decode(data)
}

func (r *RedisOTPRepository) GetByCode(ctx context.Context, code string) (*models.OTP, error) {
	email, err := r.client.Get(ctx, r.codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP code: %w", err)
	}

	otp, err := r.GetByEmail(ctx, email)
	if err != nil || otp == nil {
		return nil, err
	}
	if otp.Code != code {
		return nil, nil
	}

	return otp, nil
}

func (r *RedisOTPRepository) Consume(ctx context.Context, code string) (*models.OTP, error) {
	otp, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if otp == nil {
		return nil, ErrOTPNotFound
	}

	result, err := consumeOTPLua.Run(ctx, r.client,
		[]string{r.codeKey(code), r.emailKey(otp.Email)},
		otp.Email,
	).Result()
	if err != nil {
		if err.Error() == "not_found" {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected consume result type %T", result)
	}

	consumed, err := r.decode(data)
	if err != nil {
		return nil, err
	}
	if consumed == nil || consumed.Code != code {
		return nil, ErrOTPNotFound
	}

	return consumed, nil
}

func (r *RedisOTPRepository) decode(data string) (*models.OTP, error) {
	var otp models.OTP
	if err := json.Unmarshal([]byte(data), &otp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	if otp.Expired(r.now()) {
		return nil, nil
	}
	return &otp, nil
}
