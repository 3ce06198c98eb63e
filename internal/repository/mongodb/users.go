package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type userDocument struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty"`
	Name         string              `bson:"name"`
	Email        string              `bson:"email"`
	Mobile       int64               `bson:"mobile"`
	ReferrerID   *primitive.ObjectID `bson:"referer_id,omitempty"`
	RefererCode  string              `bson:"referer_code,omitempty"`
	ReferralCode string              `bson:"refercode"`
	Balance      float64             `bson:"balance"`
	Logo         string              `bson:"logo,omitempty"`
	Status       models.Status       `bson:"status"`
	LoginCount   int                 `bson:"loginCount"`
	CreatedAt    time.Time           `bson:"createdAt"`
	UpdatedAt    time.Time           `bson:"updatedAt"`
}

func (d *userDocument) toModel() *models.User {
	u := &models.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		Mobile:       strconv.FormatInt(d.Mobile, 10),
		RefererCode:  d.RefererCode,
		ReferralCode: d.ReferralCode,
		Balance:      d.Balance,
		Logo:         d.Logo,
		Status:       d.Status,
		LoginCount:   d.LoginCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.ReferrerID != nil {
		u.ReferrerID = d.ReferrerID.Hex()
	}
	return u
}

// userToDocument stores mobile as a number, the type existing user documents
// carry. Mobiles are validated as digits before they reach the store.
func userToDocument(u *models.User) (userDocument, error) {
	mobile, err := strconv.ParseInt(u.Mobile, 10, 64)
	if err != nil && u.Mobile != "" {
		return userDocument{}, fmt.Errorf("mobile %q is not numeric: %w", u.Mobile, err)
	}

	d := userDocument{
		Name:         u.Name,
		Email:        u.Email,
		Mobile:       mobile,
		RefererCode:  u.RefererCode,
		ReferralCode: u.ReferralCode,
		Balance:      u.Balance,
		Logo:         u.Logo,
		Status:       u.Status,
		LoginCount:   u.LoginCount,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if id, err := primitive.ObjectIDFromHex(u.ReferrerID); err == nil {
		d.ReferrerID = &id
	}
	return d, nil
}

type UserRepository struct {
	col    *mongo.Collection
	logger *logrus.Logger
}

func NewUserRepository(db *mongo.Database, logger *logrus.Logger) *UserRepository {
	return &UserRepository{col: db.Collection(usersCollection), logger: logger}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"refercode": code})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDocument
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to find user in MongoDB")
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	doc, err := userToDocument(user)
	if err != nil {
		return err
	}
	doc.ID = primitive.NewObjectID()

	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if _, dup := duplicateIndex(err); dup {
			return repository.ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in MongoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.ID = doc.ID.Hex()
	return nil
}

func (r *UserRepository) Activate(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repository.ErrNotFound
	}

	result, err := r.col.UpdateByID(ctx, oid, bson.M{
		"$set": bson.M{"status": models.StatusActive, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"loginCount": 1},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to activate user in MongoDB")
		return fmt.Errorf("failed to activate user: %w", err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
