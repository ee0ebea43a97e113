package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table.
//
//	pk=USER#<id>       sk=PROFILE           user profile
//	pk=EMAIL#<email>   sk=USER              email uniqueness + lookup
//	pk=USER#<id>       sk=CART#<productId>  cart line
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

var _ Store = (*DynamoStore)(nil)

const (
	skProfile   = "PROFILE"
	skEmail     = "USER"
	cartSKStart = "CART#"

	// fixed width so added_at sorts lexically
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
)

type dynamoUser struct {
	PK           string `dynamodbav:"pk"`
	SK           string `dynamodbav:"sk"`
	ID           string `dynamodbav:"id"`
	Email        string `dynamodbav:"email"`
	DisplayName  string `dynamodbav:"display_name"`
	IsArtisan    bool   `dynamodbav:"is_artisan"`
	PasswordHash string `dynamodbav:"password_hash"`
	CreatedAt    string `dynamodbav:"created_at"`
}

type dynamoEmail struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	UserID string `dynamodbav:"user_id"`
}

type dynamoLine struct {
	ProductID string `dynamodbav:"product_id"`
	Title     string `dynamodbav:"title"`
	UnitPrice string `dynamodbav:"unit_price"`
	Quantity  int    `dynamodbav:"quantity"`
	ImageRef  string `dynamodbav:"image_ref"`
	SellerRef string `dynamodbav:"seller_ref"`
	AddedAt   string `dynamodbav:"added_at"`
}

func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func userPK(id string) string { return "USER#" + id }
func emailPK(email string) string { return "EMAIL#" + email }
func cartSK(productID string) string { return cartSKStart + productID }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *DynamoStore) GetUser(ctx context.Context, key string) (*UserRecord, error) {
	userID := key
	if IsEmailKey(key) {
		out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key:       itemKey(emailPK(NormalizeEmail(key)), skEmail),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get email index: %w", err)
		}
		if out.Item == nil {
			return nil, ErrNotFound
		}
		var idx dynamoEmail
		if err := attributevalue.UnmarshalMap(out.Item, &idx); err != nil {
			return nil, fmt.Errorf("failed to unmarshal email index: %w", err)
		}
		userID = idx.UserID
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(userPK(userID), skProfile),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var du dynamoUser
	if err := attributevalue.UnmarshalMap(out.Item, &du); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, du.CreatedAt)

	return &UserRecord{
		ID:           du.ID,
		Email:        du.Email,
		DisplayName:  du.DisplayName,
		IsArtisan:    du.IsArtisan,
		PasswordHash: du.PasswordHash,
		CreatedAt:    createdAt,
	}, nil
}

func (s *DynamoStore) CreateUser(ctx context.Context, data NewUser) (*UserRecord, error) {
	email := NormalizeEmail(data.Email)
	if email == "" || data.PasswordHash == "" {
		return nil, ErrInvalidUser
	}

	u := &UserRecord{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  data.DisplayName,
		IsArtisan:    data.IsArtisan,
		PasswordHash: data.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	profile, err := attributevalue.MarshalMap(dynamoUser{
		PK:           userPK(u.ID),
		SK:           skProfile,
		ID:           u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		IsArtisan:    u.IsArtisan,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}
	index, err := attributevalue.MarshalMap(dynamoEmail{PK: emailPK(email), SK: skEmail, UserID: u.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email index: %w", err)
	}

	// Both items are conditional so a duplicate email cancels the whole write
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                index,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                profile,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *DynamoStore) UpsertCartLine(ctx context.Context, userID string, line LineRecord) error {
	if !line.valid() {
		return ErrInvalidLine
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(userPK(userID), cartSK(line.ProductID)),
		UpdateExpression: aws.String("SET product_id = :pid, title = :title, unit_price = :price, quantity = :qty, " +
			"image_ref = :img, seller_ref = :seller, added_at = if_not_exists(added_at, :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid":    &types.AttributeValueMemberS{Value: line.ProductID},
			":title":  &types.AttributeValueMemberS{Value: line.Title},
			":price":  &types.AttributeValueMemberS{Value: line.UnitPrice.String()},
			":qty":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", line.Quantity)},
			":img":    &types.AttributeValueMemberS{Value: line.ImageRef},
			":seller": &types.AttributeValueMemberS{Value: line.SellerRef},
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(sortableTime)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert cart line: %w", err)
	}
	return nil
}

func (s *DynamoStore) DeleteCartLine(ctx context.Context, userID, productID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(userPK(userID), cartSK(productID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete cart line: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListCartLines(ctx context.Context, userID string) ([]LineRecord, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :cart)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":   &types.AttributeValueMemberS{Value: userPK(userID)},
				":cart": &types.AttributeValueMemberS{Value: cartSKStart},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query cart lines: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	rows := make([]dynamoLine, 0, len(items))
	for _, item := range items {
		var dl dynamoLine
		if err := attributevalue.UnmarshalMap(item, &dl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cart line: %w", err)
		}
		rows = append(rows, dl)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].AddedAt != rows[j].AddedAt {
			return rows[i].AddedAt < rows[j].AddedAt
		}
		return strings.Compare(rows[i].ProductID, rows[j].ProductID) < 0
	})

	lines := make([]LineRecord, 0, len(rows))
	for _, dl := range rows {
		price, err := decimal.NewFromString(dl.UnitPrice)
		if err != nil {
			price = decimal.Zero
		}
		lines = append(lines, LineRecord{
			ProductID: dl.ProductID,
			Quantity:  dl.Quantity,
			Title:     dl.Title,
			UnitPrice: price,
			ImageRef:  dl.ImageRef,
			SellerRef: dl.SellerRef,
		})
	}
	return lines, nil
}
