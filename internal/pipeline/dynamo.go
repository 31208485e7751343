package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

const DefaultObjectKeyIndex = "GSI_ObjectKey"

// DynamoStore keeps one item per document, PK = document id. The object key
// index is a GSI with partition key ObjectKey and sort key UpdatedAt.
type DynamoStore struct {
	ddb      DynamoAPI
	table    string
	keyIndex string
	now      func() time.Time
}

func NewDynamoStore(ddb DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{ddb: ddb, table: table, keyIndex: DefaultObjectKeyIndex, now: time.Now}
}

// SetObjectKeyIndex names the GSI Latest queries.
func (d *DynamoStore) SetObjectKeyIndex(name string) {
	if name != "" {
		d.keyIndex = name
	}
}

func NewDynamoStoreFromConfig(cfg aws.Config, table string) *DynamoStore {
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table)
}

func sAttr(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func nAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func pk(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": sAttr(id)}
}

// Claim writes an Uploaded record unless the document exists, the only
// exception being an Uploaded record whose lease ran out.
func (d *DynamoStore) Claim(ctx context.Context, rec Record, lease time.Duration) (bool, *Record, error) {
	now := d.now().UTC()

	_, err := d.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key:       pk(rec.ID),
		UpdateExpression: aws.String("SET #b=:b, #k=:k, #e=:e, #st=:uploaded, #lease=:lease, " +
			"#attempts = if_not_exists(#attempts, :zero) + :one, " +
			"#created = if_not_exists(#created, :now), #updated=:now, #day=:day"),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR (#st = :uploaded AND #lease < :nowUnix)"),
		ExpressionAttributeNames: map[string]string{
			"#b":        "Bucket",
			"#k":        "ObjectKey",
			"#e":        "ETag",
			"#st":       "Stage",
			"#lease":    "LeaseUntil",
			"#attempts": "Attempts",
			"#created":  "CreatedAt",
			"#updated":  "UpdatedAt",
			"#day":      "UpdatedDay",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":b":        sAttr(rec.Bucket),
			":k":        sAttr(rec.Key),
			":e":        sAttr(rec.ETag),
			":uploaded": sAttr(string(StageUploaded)),
			":lease":    nAttr(now.Add(lease).Unix()),
			":zero":     nAttr(0),
			":one":      nAttr(1),
			":now":      sAttr(now.Format(time.RFC3339)),
			":nowUnix":  nAttr(now.Unix()),
			":day":      sAttr(now.Format(dayLayout)),
		},
	})
	if err == nil {
		return true, nil, nil
	}
	if !isConditionFailed(err) {
		return false, nil, fmt.Errorf("claim %s: %w", rec.ID, err)
	}

	existing, err := d.Get(ctx, rec.ID)
	if err != nil {
		return false, nil, fmt.Errorf("claim %s: read existing: %w", rec.ID, err)
	}
	return false, existing, nil
}

type transition struct {
	set    string
	remove string
	from   []Stage
	values map[string]types.AttributeValue
}

func (d *DynamoStore) apply(ctx context.Context, id string, t transition) error {
	now := d.now().UTC()

	names := map[string]string{"#st": "Stage", "#updated": "UpdatedAt", "#day": "UpdatedDay"}
	values := map[string]types.AttributeValue{
		":now": sAttr(now.Format(time.RFC3339)),
		":day": sAttr(now.Format(dayLayout)),
	}
	for k, v := range t.values {
		values[k] = v
	}

	expr := "SET #updated=:now, #day=:day"
	if t.set != "" {
		expr += ", " + t.set
	}
	if t.remove != "" {
		expr += " REMOVE " + t.remove
	}

	cond := "attribute_exists(PK)"
	if len(t.from) > 0 {
		cond += " AND #st IN ("
		for i, st := range t.from {
			ph := fmt.Sprintf(":from%d", i)
			values[ph] = sAttr(string(st))
			if i > 0 {
				cond += ", "
			}
			cond += ph
		}
		cond += ")"
	}
	// DynamoDB rejects unused placeholders
	if len(t.from) == 0 && !strings.Contains(t.set, "#st") {
		delete(names, "#st")
	}

	_, err := d.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       pk(id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("%s: %w", id, ErrStageConflict)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	return nil
}

func (d *DynamoStore) MarkParsed(ctx context.Context, id string, res ParsedResult) error {
	av, err := attributevalue.Marshal(res.Resume)
	if err != nil {
		return fmt.Errorf("marshal parsed result: %w", err)
	}
	set := "#st=:parsed, Parsed=:r"
	values := map[string]types.AttributeValue{
		":parsed": sAttr(string(StageParsed)),
		":r":      av,
	}
	if res.ContactEnc != "" {
		set += ", ContactEnc=:c"
		values[":c"] = sAttr(res.ContactEnc)
	}
	return d.apply(ctx, id, transition{
		set:    set,
		remove: "LeaseUntil",
		from:   []Stage{StageUploaded},
		values: values,
	})
}

func (d *DynamoStore) MarkHandedOff(ctx context.Context, id string) error {
	return d.apply(ctx, id, transition{
		set:    "HandedOff=:t",
		values: map[string]types.AttributeValue{":t": &types.AttributeValueMemberBOOL{Value: true}},
	})
}

func (d *DynamoStore) MarkQuestioned(ctx context.Context, id string, qs QuestionSet) error {
	av, err := attributevalue.Marshal(qs)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	return d.apply(ctx, id, transition{
		set:  "#st=:questioned, Questions=:q",
		from: []Stage{StageParsed},
		values: map[string]types.AttributeValue{
			":questioned": sAttr(string(StageQuestioned)),
			":q":          av,
		},
	})
}

func (d *DynamoStore) MarkFailed(ctx context.Context, id string, at Stage, reason string) error {
	return d.apply(ctx, id, transition{
		set:    "#st=:failed, FailedStage=:at, FailureReason=:why",
		remove: "LeaseUntil",
		from:   []Stage{StageUploaded, StageParsed},
		values: map[string]types.AttributeValue{
			":failed": sAttr(string(StageFailed)),
			":at":     sAttr(string(at)),
			":why":    sAttr(reason),
		},
	})
}

func (d *DynamoStore) Release(ctx context.Context, id string) error {
	return d.apply(ctx, id, transition{
		set:    "LeaseUntil=:zero",
		from:   []Stage{StageUploaded},
		values: map[string]types.AttributeValue{":zero": nAttr(0)},
	})
}

func (d *DynamoStore) Get(ctx context.Context, id string) (*Record, error) {
	out, err := d.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            pk(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", id, err)
	}
	return &rec, nil
}

// Latest queries the object key index newest first and re-reads matches from
// the table until one belongs to bucket. The index only needs its keys projected.
func (d *DynamoStore) Latest(ctx context.Context, bucket, key string) (*Record, error) {
	p := dynamodb.NewQueryPaginator(d.ddb, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(d.keyIndex),
		KeyConditionExpression: aws.String("#k = :k"),
		ExpressionAttributeNames: map[string]string{
			"#k":  "ObjectKey",
			"#pk": "PK",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": sAttr(key),
		},
		ProjectionExpression: aws.String("#pk"),
		ScanIndexForward:     aws.Bool(false),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s on %s: %w", d.keyIndex, key, err)
		}
		for _, it := range page.Items {
			id, ok := it["PK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			rec, err := d.Get(ctx, id.Value)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if rec.Bucket == bucket {
				return rec, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (d *DynamoStore) Each(ctx context.Context, fn func(Record) error) error {
	p := dynamodb.NewScanPaginator(d.ddb, &dynamodb.ScanInput{TableName: aws.String(d.table)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", d.table, err)
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return fmt.Errorf("unmarshal scan page: %w", err)
		}
		for _, r := range recs {
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func isConditionFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}
