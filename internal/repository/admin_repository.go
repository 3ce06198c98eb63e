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

const adminEmailPrefix = "ADMIN_EMAIL#"

type AdminRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewAdminRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *AdminRepository {
	return &AdminRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *AdminRepository) GetByID(ctx context.Context, id string) (*models.Admin, error) {
	admin := &models.Admin{ID: id}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(admin.GetPK()),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get admin from DynamoDB")
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	return unmarshalAdmin(result.Item)
}

func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(adminEmailPrefix + email),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get admin email pointer from DynamoDB")
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	return r.GetByID(ctx, attrString(result.Item, "AdminID"))
}

func (r *AdminRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Admin, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND password_reset_token = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": stringValue("ADMIN#"),
			":token":     stringValue(tokenHash),
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admins by reset token: %w", err)
		}
		for _, item := range page.Items {
			admin, err := unmarshalAdmin(item)
			if err != nil {
				return nil, err
			}
			if now.Before(admin.PasswordResetExpiry) {
				return admin, nil
			}
		}
	}

	return nil, nil
}

func (r *AdminRepository) Create(ctx context.Context, admin *models.Admin) error {
	now := time.Now().UTC()
	admin.ID = uuid.New().String()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	item, err := attributevalue.MarshalMap(admin)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal admin for DynamoDB")
		return fmt.Errorf("failed to marshal admin: %w", err)
	}

	item["PK"] = stringValue(admin.GetPK())
	item["SK"] = stringValue(admin.GetSK())

	pointer := itemKey(adminEmailPrefix + admin.Email)
	pointer["AdminID"] = stringValue(admin.ID)

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
			return ErrAdminExists
		}
		r.logger.WithError(err).Error("Failed to create admin in DynamoDB")
		return fmt.Errorf("failed to create admin: %w", err)
	}

	return nil
}

func (r *AdminRepository) RecordLogin(ctx context.Context, id, refreshToken string) (*models.Admin, error) {
	result, err := r.update(ctx, id,
		"SET refresh_token = :refresh, login_count = if_not_exists(login_count, :zero) + :one, updated_at = :updated_at",
		nil,
		map[string]types.AttributeValue{
			":refresh": stringValue(refreshToken),
			":zero":    numberValue(0),
			":one":     numberValue(1),
		},
		types.ReturnValueAllNew,
	)
	if err != nil {
		return nil, err
	}

	return unmarshalAdmin(result.Attributes)
}

func (r *AdminRepository) SetRefreshToken(ctx context.Context, id, refreshToken string) error {
	if refreshToken == "" {
		_, err := r.update(ctx, id, "SET updated_at = :updated_at REMOVE refresh_token", nil, nil, types.ReturnValueNone)
		return err
	}

	_, err := r.update(ctx, id, "SET refresh_token = :refresh, updated_at = :updated_at",
		nil,
		map[string]types.AttributeValue{":refresh": stringValue(refreshToken)},
		types.ReturnValueNone,
	)
	return err
}

func (r *AdminRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	_, err := r.update(ctx, id,
		"SET password_reset_token = :token, password_reset_expires = :expires, updated_at = :updated_at",
		nil,
		map[string]types.AttributeValue{
			":token":   stringValue(tokenHash),
			":expires": timeValue(expiresAt),
		},
		types.ReturnValueNone,
	)
	return err
}

func (r *AdminRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.update(ctx, id,
		"SET #password = :password, updated_at = :updated_at REMOVE password_reset_token, password_reset_expires, refresh_token",
		map[string]string{"#password": "password"},
		map[string]types.AttributeValue{":password": stringValue(passwordHash)},
		types.ReturnValueNone,
	)
	return err
}

func (r *AdminRepository) update(ctx context.Context, id, expression string, names map[string]string, values map[string]types.AttributeValue, ret types.ReturnValue) (*dynamodb.UpdateItemOutput, error) {
	admin := &models.Admin{ID: id}

	if values == nil {
		values = make(map[string]types.AttributeValue)
	}
	values[":updated_at"] = timeValue(time.Now())

	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       itemKey(admin.GetPK()),
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              ret,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrNotFound
		}
		r.logger.WithError(err).Error("Failed to update admin in DynamoDB")
		return nil, fmt.Errorf("failed to update admin: %w", err)
	}

	return result, nil
}

func unmarshalAdmin(item map[string]types.AttributeValue) (*models.Admin, error) {
	var admin models.Admin
	if err := attributevalue.UnmarshalMap(item, &admin); err != nil {
		return nil, fmt.Errorf("failed to unmarshal admin: %w", err)
	}
	return &admin, nil
}
