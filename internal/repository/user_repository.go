package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/models"
)

const userEmailPrefix = "USER_EMAIL#"

// UserRepository stores users in the single DynamoDB table. Each user has a
// USER#<id> item plus a USER_EMAIL#<email> pointer that keeps emails unique.
type UserRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{ID: id}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(user.GetPK()),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(userEmailPrefix + email),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user email pointer from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	return r.GetByID(ctx, attrString(result.Item, "UserID"))
}

// GetByReferralCode scans for the first user holding code. Referral codes are
// looked up once per registration, so a scan is acceptable here.
func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND refercode = :code"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": stringValue("USER#"),
			":code":      stringValue(code),
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan users by referral code: %w", err)
		}
		if len(page.Items) == 0 {
			continue
		}

		var user models.User
		if err := attributevalue.UnmarshalMap(page.Items[0], &user); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user: %w", err)
		}
		return &user, nil
	}

	return nil, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.ID = uuid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	item["PK"] = stringValue(user.GetPK())
	item["SK"] = stringValue(user.GetSK())

	pointer := itemKey(userEmailPrefix + user.Email)
	pointer["UserID"] = stringValue(user.ID)

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                pointer,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		if _, cancelled := cancelledAt(err); cancelled {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) Activate(ctx context.Context, id string) error {
	user := &models.User{ID: id}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(user.GetPK()),
		UpdateExpression:    aws.String("SET #status = :active, login_count = if_not_exists(login_count, :zero) + :one, updated_at = :updated_at"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active":     numberValue(int64(models.StatusActive)),
			":zero":       numberValue(0),
			":one":        numberValue(1),
			":updated_at": timeValue(time.Now()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		r.logger.WithError(err).Error("Failed to activate user in DynamoDB")
		return fmt.Errorf("failed to activate user: %w", err)
	}

	return nil
}
