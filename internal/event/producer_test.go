package event

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewProducer_SelectsDriver(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	tests := []struct {
		driver string
		check  func(Producer) bool
	}{
		{"", func(p Producer) bool { _, ok := p.(*KafkaProducer); return ok }},
		{"kafka", func(p Producer) bool { _, ok := p.(*KafkaProducer); return ok }},
		{"redis", func(p Producer) bool { _, ok := p.(*RedisStreamProducer); return ok }},
		{"log", func(p Producer) bool { _, ok := p.(*LogProducer); return ok }},
	}

	for _, tt := range tests {
		p, err := NewProducer(tt.driver, nil, "localhost:6379", "", logger)
		if err != nil {
			t.Errorf("NewProducer(%q) returned error: %v", tt.driver, err)
			continue
		}
		if !tt.check(p) {
			t.Errorf("NewProducer(%q) returned %T", tt.driver, p)
		}
	}
}

func TestNewProducer_UnknownDriver(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewProducer("amqp", nil, "", "", newTestLogger(&buf)); err == nil {
		t.Fatal("expected error for unknown driver, got nil")
	}
}

func TestNewProducer_RedisRequiresAddr(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewProducer("redis", nil, "", "", newTestLogger(&buf)); err == nil {
		t.Fatal("expected error when REDIS_ADDR is empty, got nil")
	}
}

func TestNewKafkaProducer_DefaultBroker(t *testing.T) {
	p := NewKafkaProducer(nil)
	if len(p.brokers) != 1 || p.brokers[0] != DefaultKafkaBroker {
		t.Errorf("brokers = %v, want [%s]", p.brokers, DefaultKafkaBroker)
	}
}

func TestLogProducer_WritesPayload(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogProducer(newTestLogger(&buf))

	if err := p.Send(context.Background(), "topic-a", []byte(`{"userId":"x"}`)); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "topic-a") {
		t.Errorf("log output should contain the topic, got: %s", buf.String())
	}
}

func TestRedisStreamProducer_UnreachableReturnsError(t *testing.T) {
	p := NewRedisStreamProducer("127.0.0.1:1", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.Send(ctx, DefaultTopic, []byte("{}")); err == nil {
		t.Fatal("expected error for unreachable redis, got nil")
	}
}

func TestKafkaProducer_UnreachableReturnsError(t *testing.T) {
	p := NewKafkaProducer([]string{"127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := p.Send(ctx, DefaultTopic, []byte("{}")); err == nil {
		t.Fatal("expected error for unreachable broker, got nil")
	}
}
