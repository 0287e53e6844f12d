package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

const (
	// DefaultKafkaBroker は移行イベントの送信先ブローカー。
	DefaultKafkaBroker = "kafka.kafka.svc.cluster.local:9092"
	// DefaultTopic は移行イベントのトピック名。
	DefaultTopic = "migrateLegacyUserEvent"
)

// Producer はメッセージバスへの送信インターフェース。
// 実装は送信ごとに接続を開き、結果にかかわらず送信後に閉じる。
type Producer interface {
	Send(ctx context.Context, topic string, payload []byte) error
}

// KafkaProducer はKafkaへ送信するProducer。
type KafkaProducer struct {
	brokers []string
}

// NewKafkaProducer はKafkaProducerを生成する。
func NewKafkaProducer(brokers []string) *KafkaProducer {
	if len(brokers) == 0 {
		brokers = []string{DefaultKafkaBroker}
	}
	return &KafkaProducer{brokers: brokers}
}

// Send は使い捨てのkafka.Writerで1件送信する。
func (p *KafkaProducer) Send(ctx context.Context, topic string, payload []byte) error {
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	defer w.Close()

	if err := w.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// RedisStreamProducer はRedis Streamsへ送信するProducer。
// トピック名をストリーム名として XADD する。
type RedisStreamProducer struct {
	addr     string
	password string
}

// NewRedisStreamProducer はRedisStreamProducerを生成する。
func NewRedisStreamProducer(addr, password string) *RedisStreamProducer {
	return &RedisStreamProducer{addr: addr, password: password}
}

// Send は使い捨てのRedisクライアントで1件送信する。
func (p *RedisStreamProducer) Send(ctx context.Context, topic string, payload []byte) error {
	client := goredis.NewClient(&goredis.Options{
		Addr:     p.addr,
		Password: p.password,
		DB:       0,
	})
	defer client.Close()

	err := client.XAdd(ctx, &goredis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add redis stream entry: %w", err)
	}
	return nil
}

// LogProducer はペイロードをログに出力するだけのProducer。
// メッセージバスを持たない環境向け。
type LogProducer struct {
	logger *slog.Logger
}

// NewLogProducer はLogProducerを生成する。
func NewLogProducer(logger *slog.Logger) *LogProducer {
	return &LogProducer{logger: logger}
}

// Send はペイロードをINFOログに出力する。
func (p *LogProducer) Send(ctx context.Context, topic string, payload []byte) error {
	p.logger.InfoContext(ctx, "migration event",
		slog.String("topic", topic),
		slog.String("payload", string(payload)),
	)
	return nil
}

// NewProducer はドライバー名に対応するProducerを生成する。
func NewProducer(driver string, kafkaBrokers []string, redisAddr, redisPassword string, logger *slog.Logger) (Producer, error) {
	switch driver {
	case "", "kafka":
		return NewKafkaProducer(kafkaBrokers), nil
	case "redis":
		if redisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for the redis event bus driver")
		}
		return NewRedisStreamProducer(redisAddr, redisPassword), nil
	case "log":
		return NewLogProducer(logger), nil
	default:
		return nil, fmt.Errorf("unknown event bus driver: %s", driver)
	}
}
