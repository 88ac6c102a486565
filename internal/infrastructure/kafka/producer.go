// Package kafka mirrors the dashboard's transaction lifecycle and
// activity feed onto a kafka topic for external consumers. The
// producer is optional; with no brokers configured the process runs
// without it.
package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"payflow/internal/domain"
	"payflow/internal/events"
	"payflow/internal/infrastructure/telemetry"
	"payflow/internal/streaming"
)

type Producer struct {
	writer *kafka.Writer
	topic  string
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "payflow-activity"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return &Producer{writer: writer, topic: cfg.Topic}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishTransaction emits one message per lifecycle transition. Messages
// are keyed by wallet address so per-wallet ordering survives partitioning.
func (p *Producer) PublishTransaction(ctx context.Context, wallet string, event events.TransactionEvent) error {
	tracer := otel.Tracer("payflow/kafka")
	traceCtx, traceIDHex := p.newTraceContext(ctx)
	traceCtx, span := tracer.Start(traceCtx, "activity.publish_transaction", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.hash", event.Hash),
		attribute.String("tx.type", string(event.Type)),
		attribute.String("tx.status", string(event.Status)),
		attribute.String("wallet", wallet),
	)

	payload, err := streaming.Encode(streaming.Message{
		Type:         streaming.MessageTypeTransaction,
		Address:      wallet,
		TraceID:      traceIDHex,
		Hash:         event.Hash,
		TxType:       string(event.Type),
		FunctionName: event.FunctionName,
		To:           event.To,
		Amount:       event.Amount,
		Status:       string(event.Status),
		Error:        event.Error,
		Time:         time.Now().UnixMilli(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(traceCtx, &headers)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(wallet),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// PublishActivity emits one message per activity feed item.
func (p *Producer) PublishActivity(ctx context.Context, wallet string, item domain.ActivityItem) error {
	tracer := otel.Tracer("payflow/kafka")
	traceCtx, traceIDHex := p.newTraceContext(ctx)
	traceCtx, span := tracer.Start(traceCtx, "activity.publish_activity", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("activity.type", string(item.Type)),
		attribute.String("wallet", wallet),
	)

	payload, err := streaming.Encode(streaming.Message{
		Type:         streaming.MessageTypeActivity,
		Address:      wallet,
		TraceID:      traceIDHex,
		ActivityType: string(item.Type),
		Title:        item.Title,
		Description:  item.Description,
		Time:         item.Time,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(traceCtx, &headers)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(wallet),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Producer) newTraceContext(ctx context.Context) (context.Context, string) {
	traceID, traceIDHex, ok := telemetry.NewTraceID()
	if !ok {
		return ctx, ""
	}
	spanCtx, ok := telemetry.NewSpanContext(traceID)
	if !ok {
		return ctx, traceIDHex
	}
	return trace.ContextWithSpanContext(ctx, spanCtx), traceIDHex
}
