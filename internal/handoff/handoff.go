package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"resume-pipeline/internal/pipeline"
)

const EventType = "resume.parsed"

// Handoff passes a Parsed document on to question generation.
type Handoff interface {
	Parsed(ctx context.Context, ev pipeline.ParsedEvent) error
}

// Func adapts a function, e.g. an in-process generator worker, to Handoff.
type Func func(ctx context.Context, ev pipeline.ParsedEvent) error

func (f Func) Parsed(ctx context.Context, ev pipeline.ParsedEvent) error {
	return f(ctx, ev)
}

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher announces parsed documents on a topic the generator subscribes to.
type SNSPublisher struct {
	client   SNSAPI
	topicArn string
	log      *slog.Logger
}

func NewSNSPublisher(client SNSAPI, topicArn string, log *slog.Logger) *SNSPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &SNSPublisher{client: client, topicArn: topicArn, log: log}
}

func (p *SNSPublisher) Parsed(ctx context.Context, ev pipeline.ParsedEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicArn),
		Subject:  aws.String("resume parsed"),
		Message:  aws.String(string(b)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", ev.DocumentID, err)
	}

	p.log.Debug("published parsed event", "document_id", ev.DocumentID, "message_id", aws.ToString(out.MessageId))
	return nil
}
