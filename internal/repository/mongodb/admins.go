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
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type adminDocument struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty"`
	Name                string             `bson:"name"`
	Email               string             `bson:"email"`
	Password            string             `bson:"password"`
	Logo                string             `bson:"logo,omitempty"`
	Status              models.Status      `bson:"status"`
	LoginCount          int                `bson:"loginCount"`
	RefreshToken        string             `bson:"refreshToken,omitempty"`
	PasswordResetToken  string             `bson:"passwordResetToken,omitempty"`
	PasswordResetExpiry time.Time          `bson:"passwordResetExpires,omitempty"`
	CreatedAt           time.Time          `bson:"createdAt"`
	UpdatedAt           time.Time          `bson:"updatedAt"`
}

func (d *adminDocument) toModel() *models.Admin {
	return &models.Admin{
		ID:                  d.ID.Hex(),
		Name:                d.Name,
		Email:               d.Email,
		PasswordHash:        d.Password,
		Logo:                d.Logo,
		Status:              d.Status,
		LoginCount:          d.LoginCount,
		RefreshToken:        d.RefreshToken,
		PasswordResetToken:  d.PasswordResetToken,
		PasswordResetExpiry: d.PasswordResetExpiry,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

type AdminRepository struct {
	col    *mongo.Collection
	logger *logrus.Logger
}

func NewAdminRepository(db *mongo.Database, logger *logrus.Logger) *AdminRepository {
	return &AdminRepository{col: db.Collection(adminsCollection), logger: logger}
}

func (r *AdminRepository) GetByID(ctx context.Context, id string) (*models.Admin, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *AdminRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Admin, error) {
	return r.findOne(ctx, bson.M{
		"passwordResetToken":   tokenHash,
		"passwordResetExpires": bson.M{"$gt": now.UTC()},
	})
}

func (r *AdminRepository) findOne(ctx context.Context, filter bson.M) (*models.Admin, error) {
	var doc adminDocument
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to find admin in MongoDB")
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	return doc.toModel(), nil
}

func (r *AdminRepository) Create(ctx context.Context, admin *models.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	doc := adminDocument{
		ID:           primitive.NewObjectID(),
		Name:         admin.Name,
		Email:        admin.Email,
		Password:     admin.PasswordHash,
		Logo:         admin.Logo,
		Status:       admin.Status,
		RefreshToken: admin.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if _, dup := duplicateIndex(err); dup {
			return repository.ErrAdminExists
		}
		r.logger.WithError(err).Error("Failed to create admin in MongoDB")
		return fmt.Errorf("failed to create admin: %w", err)
	}

	admin.ID = doc.ID.Hex()
	return nil
}

func (r *AdminRepository) RecordLogin(ctx context.Context, id, refreshToken string) (*models.Admin, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}

	var doc adminDocument
	err = r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$set": bson.M{"refreshToken": refreshToken, "updatedAt": time.Now().UTC()},
			"$inc": bson.M{"loginCount": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to record admin login in MongoDB")
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	return doc.toModel(), nil
}

func (r *AdminRepository) SetRefreshToken(ctx context.Context, id, refreshToken string) error {
	if refreshToken == "" {
		return r.update(ctx, id, bson.M{
			"$set":   bson.M{"updatedAt": time.Now().UTC()},
			"$unset": bson.M{"refreshToken": ""},
		})
	}
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"refreshToken": refreshToken, "updatedAt": time.Now().UTC()},
	})
}

func (r *AdminRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{
			"passwordResetToken":   tokenHash,
			"passwordResetExpires": expiresAt.UTC(),
			"updatedAt":             time.Now().UTC(),
		},
	})
}

func (r *AdminRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"password": passwordHash, "updatedAt": time.Now().UTC()},
		"$unset": bson.M{
			"passwordResetToken":   "",
			"passwordResetExpires": "",
			"refreshToken":          "",
		},
	})
}

func (r *AdminRepository) update(ctx context.Context, id string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repository.ErrNotFound
	}

	result, err := r.col.UpdateByID(ctx, oid, update)
	if err != nil {
		r.logger.WithError(err).Error("Failed to update admin in MongoDB")
		return fmt.Errorf("failed to update admin: %w", err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
