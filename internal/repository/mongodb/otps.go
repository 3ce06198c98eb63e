package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type otpDocument struct {
	Email     string    `bson:"email"`
	Code      string    `bson:"code"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

func (d *otpDocument) toModel() *models.OTP {
	return &models.OTP{Email: d.Email, Code: d.Code, CreatedAt: d.CreatedAt, ExpiresAt: d.ExpiresAt}
}

// OTPRepository relies on unique indexes on email and code for atomic
// creation and on FindOneAndDelete for single consumption. The TTL monitor
// removes expired documents lazily, so every query filters on expires_at too.
type OTPRepository struct {
	col    *mongo.Collection
	logger *logrus.Logger
	now    func() time.Time
}

func NewOTPRepository(db *mongo.Database, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{col: db.Collection(otpsCollection), logger: logger, now: time.Now}
}

func (r *OTPRepository) Create(ctx context.Context, otp models.OTP) error {
	now := r.now().UTC()

	// Clear expired documents the TTL monitor has not reached yet so they do
	// not trip the unique indexes.
	_, err := r.col.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"email": otp.Email},
			bson.M{"code": otp.Code},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to clear expired OTPs: %w", err)
	}

	_, err = r.col.InsertOne(ctx, otpDocument{
		Email:     otp.Email,
		Code:      otp.Code,
		CreatedAt: otp.CreatedAt.UTC(),
		ExpiresAt: otp.ExpiresAt.UTC(),
	})
	if err != nil {
		if index, dup := duplicateIndex(err); dup {
			if index == "code_1" {
				return repository.ErrOTPCodeTaken
			}
			return repository.ErrOTPExists
		}
		r.logger.WithError(err).Error("Failed to store OTP in MongoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *OTPRepository) GetByEmail(ctx context.Context, email string) (*models.OTP, error) {
	return r.findLive(ctx, bson.M{"email": email})
}

func (r *OTPRepository) GetByCode(ctx context.Context, code string) (*models.OTP, error) {
	return r.findLive(ctx, bson.M{"code": code})
}

func (r *OTPRepository) findLive(ctx context.Context, filter bson.M) (*models.OTP, error) {
	filter["expires_at"] = bson.M{"$gt": r.now().UTC()}

	var doc otpDocument
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	return doc.toModel(), nil
}

func (r *OTPRepository) Consume(ctx context.Context, code string) (*models.OTP, error) {
	var doc otpDocument
	err := r.col.FindOneAndDelete(ctx, bson.M{
		"code":       code,
		"expires_at": bson.M{"$gt": r.now().UTC()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrOTPNotFound
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to consume OTP in MongoDB")
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}
	return doc.toModel(), nil
}
