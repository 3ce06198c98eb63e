package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/models"
)

const (
	otpEmailPrefix = "OTP#"
	otpCodePrefix  = "OTP_CODE#"
)

// OTPRepository keeps pending codes in DynamoDB. A code is written as two
// items in one transaction: OTP#<email> holding the record and
// OTP_CODE#<code> pointing back at the email. Both carry a TTL so the table
// expires them on its own; reads still check expiry because TTL deletion
// lags.
type OTPRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewOTPRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *OTPRepository) Create(ctx context.Context, otp models.OTP) error {
	record, err := attributevalue.MarshalMap(otp)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP: %w", err)
	}
	record["PK"] = stringValue(otpEmailPrefix + otp.Email)
	record["SK"] = stringValue(metadataSK)
	record[ttlAttr] = numberValue(otp.ExpiresAt.Unix())

	pointer := itemKey(otpCodePrefix + otp.Code)
	pointer["Email"] = stringValue(otp.Email)
	pointer[ttlAttr] = numberValue(otp.ExpiresAt.Unix())

	// An existing item only blocks the write while it is live.
	condition := aws.String("attribute_not_exists(PK) OR #ttl <= :now")
	names := map[string]string{"#ttl": ttlAttr}
	values := map[string]types.AttributeValue{":now": numberValue(r.now().Unix())}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                 aws.String(r.tableName),
				Item:                      record,
				ConditionExpression:       condition,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}},
			{Put: &types.Put{
				TableName:                 aws.String(r.tableName),
				Item:                      pointer,
				ConditionExpression:       condition,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}},
		},
	})
	if err != nil {
		if failed, cancelled := cancelledAt(err); cancelled {
			if len(failed) > 0 && failed[0] {
				return ErrOTPExists
			}
			if len(failed) > 1 && failed[1] {
				return ErrOTPCodeTaken
			}
		}
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *OTPRepository) GetByEmail(ctx context.Context, email string) (*models.OTP, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(otpEmailPrefix + email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var otp models.OTP
	if err := attributevalue.UnmarshalMap(result.Item, &otp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	if otp.Expired(r.now()) {
		return nil, nil
	}

	return &otp, nil
}

func (r *OTPRepository) GetByCode(ctx context.Context, code string) (*models.OTP, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(otpCodePrefix + code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP code: %w", err)
	}

	if result.Item == nil || attrInt(result.Item, ttlAttr) <= r.now().Unix() {
		return nil, nil
	}

	otp, err := r.GetByEmail(ctx, attrString(result.Item, "Email"))
	if err != nil || otp == nil {
		return nil, err
	}

	// The email may have been reissued a different code since the pointer
	// was written.
	if otp.Code != code {
		return nil, nil
	}

	return otp, nil
}

func (r *OTPRepository) Consume(ctx context.Context, code string) (*models.OTP, error) {
	otp, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if otp == nil {
		return nil, ErrOTPNotFound
	}

	now := numberValue(r.now().Unix())

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:                aws.String(r.tableName),
				Key:                      itemKey(otpEmailPrefix + otp.Email),
				ConditionExpression:      aws.String("#code = :code AND #ttl > :now"),
				ExpressionAttributeNames: map[string]string{"#ttl": ttlAttr, "#code": "Code"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":code": stringValue(code),
					":now":  now,
				},
			}},
			{Delete: &types.Delete{
				TableName:                aws.String(r.tableName),
				Key:                      itemKey(otpCodePrefix + code),
				ConditionExpression:      aws.String("#email = :email AND #ttl > :now"),
				ExpressionAttributeNames: map[string]string{"#ttl": ttlAttr, "#email": "Email"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":email": stringValue(otp.Email),
					":now":   now,
				},
			}},
		},
	})
	if err != nil {
		if _, cancelled := cancelledAt(err); cancelled {
			return nil, ErrOTPNotFound
		}
		r.logger.WithError(err).Error("Failed to consume OTP in DynamoDB")
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}

	return otp, nil
}
