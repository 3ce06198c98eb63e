// Package mongodb implements the credential and OTP stores on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection  = "users"
	adminsCollection = "admins"
	otpsCollection   = "otps"
)

// Connect opens a client and pings the deployment before returning it.
func Connect(ctx context.Context, uri string, logger *logrus.Logger) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("Connected to MongoDB")
	return client, nil
}

// EnsureIndexes creates the unique and TTL indexes the stores rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "refercode", Value: 1}}},
		},
		adminsCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "passwordResetToken", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		otpsCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
	}

	for name, specs := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// duplicateIndex returns the name of the unique index a write violated.
func duplicateIndex(err error) (string, bool) {
	if !mongo.IsDuplicateKeyError(err) {
		return "", false
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return indexFromMessage(e.Message), true
			}
		}
	}
	return indexFromMessage(err.Error()), true
}

func indexFromMessage(msg string) string {
	const marker = "index: "
	i := strings.Index(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
