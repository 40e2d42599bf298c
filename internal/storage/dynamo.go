package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// sortIndex is the GSI ordering each collection by SortKey. The table is
// keyed (PK=collection, SK=document key); the index is keyed
// (PK=collection, GSI1SK=sortKey#key) with ALL projection.
const sortIndex = "GSI1"

// Upper bound sentinel: greater than any byte sequence appearing in real
// sort keys or document keys.
const sortKeyCeiling = "￿"

// Dynamo implements Store on a DynamoDB single-table layout.
type Dynamo struct {
	client *dynamodb.Client
	table  string
}

// DynamoOptions configures the DynamoDB connection.
type DynamoOptions struct {
	Table     string
	Region    string
	Profile   string // empty uses the default credential chain (IAM role)
	AccessKey string // optional static credentials
	SecretKey string
}

// NewDynamo creates a DynamoDB-backed store.
func NewDynamo(ctx context.Context, opts DynamoOptions) (*Dynamo, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Dynamo{
		client: dynamodb.NewFromConfig(cfg),
		table:  opts.Table,
	}, nil
}

// dynamoItem is the persisted shape of an Item.
type dynamoItem struct {
	PK        string            `dynamodbav:"PK"`
	SK        string            `dynamodbav:"SK"`
	GSI1SK    string            `dynamodbav:"GSI1SK"`
	Data      string            `dynamodbav:"Data"`
	Indexed   map[string]string `dynamodbav:"Indexed,omitempty"`
	UpdatedAt string            `dynamodbav:"UpdatedAt"`
}

func toDynamoItem(item Item) dynamoItem {
	return dynamoItem{
		PK:        item.Collection,
		SK:        item.Key,
		GSI1SK:    item.SortKey + "#" + item.Key,
		Data:      string(item.Data),
		Indexed:   item.Indexed,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func fromDynamoItem(di dynamoItem) Item {
	sortKey := di.GSI1SK
	// Strip the "#key" suffix; the key itself may contain '#', the suffix
	// is always "#"+SK.
	if n := len(sortKey) - len(di.SK) - 1; n >= 0 && sortKey[n:] == "#"+di.SK {
		sortKey = sortKey[:n]
	}
	return Item{
		Collection: di.PK,
		Key:        di.SK,
		SortKey:    sortKey,
		Data:       []byte(di.Data),
		Indexed:    di.Indexed,
	}
}

// Put creates or replaces a document.
func (d *Dynamo) Put(ctx context.Context, item Item) error {
	av, err := attributevalue.MarshalMap(toDynamoItem(item))
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

// Get returns a single document, or (nil, nil) when absent.
func (d *Dynamo) Get(ctx context.Context, collection, key string) (*Item, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: collection},
			"SK": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var di dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &di); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	item := fromDynamoItem(di)
	return &item, nil
}

// Query reads a collection through the sort index. DynamoDB applies Limit
// before FilterExpression, so pages are filled by looping until Limit
// matching items are collected or the index is exhausted; this preserves
// the invariant that a short result means exhaustion.
func (d *Dynamo) Query(ctx context.Context, q Query) ([]Item, error) {
	input := &dynamodb.QueryInput{
		TableName:        aws.String(d.table),
		IndexName:        aws.String(sortIndex),
		ScanIndexForward: aws.Bool(!q.Descending),
	}

	names := map[string]string{"#pk": "PK"}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: q.Collection},
	}

	keyCond := "#pk = :pk"
	lo, hi := "", ""
	if q.After != "" {
		lo = q.After + "#" + sortKeyCeiling
	}
	if q.Before != "" {
		hi = q.Before + "#" + sortKeyCeiling
	}
	switch {
	case lo != "" && hi != "":
		keyCond += " AND #gsk BETWEEN :lo AND :hi"
		names["#gsk"] = "GSI1SK"
		values[":lo"] = &types.AttributeValueMemberS{Value: lo}
		values[":hi"] = &types.AttributeValueMemberS{Value: hi}
	case lo != "":
		keyCond += " AND #gsk > :lo"
		names["#gsk"] = "GSI1SK"
		values[":lo"] = &types.AttributeValueMemberS{Value: lo}
	case hi != "":
		keyCond += " AND #gsk <= :hi"
		names["#gsk"] = "GSI1SK"
		values[":hi"] = &types.AttributeValueMemberS{Value: hi}
	}
	input.KeyConditionExpression = aws.String(keyCond)

	if len(q.Equals) > 0 {
		filter := ""
		i := 0
		for field, val := range q.Equals {
			if filter != "" {
				filter += " AND "
			}
			fn := fmt.Sprintf("#f%d", i)
			fv := fmt.Sprintf(":f%d", i)
			filter += fmt.Sprintf("#idx.%s = %s", fn, fv)
			names[fn] = field
			values[fv] = &types.AttributeValueMemberS{Value: val}
			i++
		}
		names["#idx"] = "Indexed"
		input.FilterExpression = aws.String(filter)
	}

	input.ExpressionAttributeNames = names
	input.ExpressionAttributeValues = values

	if q.StartAfter != "" {
		sortKey, key, ok := splitCursor(q.StartAfter)
		if !ok {
			return nil, fmt.Errorf("malformed query cursor %q", q.StartAfter)
		}
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: q.Collection},
			"SK":     &types.AttributeValueMemberS{Value: key},
			"GSI1SK": &types.AttributeValueMemberS{Value: sortKey + "#" + key},
		}
	}

	var items []Item
	for {
		result, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}

		for _, raw := range result.Items {
			var di dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &di); err != nil {
				continue
			}
			items = append(items, fromDynamoItem(di))
			if q.Limit > 0 && len(items) >= q.Limit {
				return items, nil
			}
		}

		if result.LastEvaluatedKey == nil {
			return items, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// Delete removes a document. Absent documents are not an error.
func (d *Dynamo) Delete(ctx context.Context, collection, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: collection},
			"SK": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting item from DynamoDB: %w", err)
	}
	return nil
}

// TransactWrite commits the batch with TransactWriteItems: all-or-nothing.
func (d *Dynamo) TransactWrite(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	txItems := make([]types.TransactWriteItem, 0, len(writes))
	for _, w := range writes {
		switch {
		case w.Put != nil:
			av, err := attributevalue.MarshalMap(toDynamoItem(*w.Put))
			if err != nil {
				return fmt.Errorf("marshaling transactional put: %w", err)
			}
			txItems = append(txItems, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(d.table),
					Item:      av,
				},
			})
		case w.Delete != nil:
			txItems = append(txItems, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(d.table),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: w.Delete.Collection},
						"SK": &types.AttributeValueMemberS{Value: w.Delete.Key},
					},
				},
			})
		}
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: txItems,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}

// EnsureSchema verifies the table is reachable and round-trips a
// placeholder document through the subscriber collection.
func (d *Dynamo) EnsureSchema(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	})
	if err != nil {
		return fmt.Errorf("describing table %s: %w", d.table, err)
	}

	probe := Item{
		Collection: CollectionSubscribers,
		Key:        "_schema_probe",
		SortKey:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:       []byte(`{"probe":true}`),
	}
	if err := d.Put(ctx, probe); err != nil {
		return fmt.Errorf("writing schema probe: %w", err)
	}
	if err := d.Delete(ctx, probe.Collection, probe.Key); err != nil {
		return fmt.Errorf("deleting schema probe: %w", err)
	}
	return nil
}
