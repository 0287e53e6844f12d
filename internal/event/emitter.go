package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize   = 1024
	defaultSendTimeout = 5 * time.Second
)

// MetricsRecorder は送信結果の記録インターフェース。
type MetricsRecorder interface {
	RecordEventSent()
	RecordEventFailed()
	RecordEventDropped()
}

// EmitterConfig はEmitterの設定。
type EmitterConfig struct {
	Topic       string
	QueueSize   int           // 0以下の場合は1024
	SendTimeout time.Duration // 0以下の場合は5秒
}

// Emitter は移行イベントをベストエフォートで非同期送信する。
//
// Emitは呼び出し元をブロックせず、シリアライズしたペイロードを有界キューに積むだけ。
// キューが満杯の場合はそのイベントを破棄する。
// 送信は1回のみ試行し、リトライもバックオフも行わない。失敗はログとメトリクスでのみ観測できる。
type Emitter struct {
	producer    Producer
	logger      *slog.Logger
	metrics     MetricsRecorder
	topic       string
	sendTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan []byte
	done    chan struct{}
	started atomic.Bool
}

// NewEmitter はEmitterを生成する。metricsはnilでもよい。
func NewEmitter(producer Producer, logger *slog.Logger, metrics MetricsRecorder, cfg EmitterConfig) *Emitter {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Emitter{
		producer:    producer,
		logger:      logger,
		metrics:     metrics,
		topic:       cfg.Topic,
		sendTimeout: cfg.SendTimeout,
		queue:       make(chan []byte, cfg.QueueSize),
		done:        make(chan struct{}),
	}
}

// Emit はプロフィールをシリアライズして送信キューに積む。
// キューに積めた場合はtrueを返す。シリアライズ失敗、キュー満杯、停止後はfalseを返す。
func (e *Emitter) Emit(profile *MigrationProfile) bool {
	payload, err := profile.Marshal()
	if err != nil {
		e.logger.Warn("移行イベントのシリアライズに失敗しました",
			slog.String("user_id", profile.UserID.String()),
			slog.String("error", err.Error()),
		)
		e.recordDropped()
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.logger.Warn("Emitter停止後のため移行イベントを破棄しました",
			slog.String("user_id", profile.UserID.String()),
		)
		e.recordDropped()
		return false
	}

	select {
	case e.queue <- payload:
		return true
	default:
		e.logger.Warn("送信キューが満杯のため移行イベントを破棄しました",
			slog.String("user_id", profile.UserID.String()),
			slog.Int("queue_size", cap(e.queue)),
		)
		e.recordDropped()
		return false
	}
}

// Start はキューが閉じられるまでイベントを送信し続ける（ブロッキング）。
// ctxのキャンセルは送信中のイベントを中断しない。停止にはShutdownを使う。
// 2回目以降の呼び出しは何もせずに戻る。
func (e *Emitter) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		e.logger.Warn("移行イベント送信ワーカーは既に開始されています", slog.String("topic", e.topic))
		return
	}
	defer close(e.done)

	sendCtx := context.WithoutCancel(ctx)

	e.logger.Info("移行イベント送信ワーカーを開始しました",
		slog.String("topic", e.topic),
		slog.Int("queue_size", cap(e.queue)),
	)

	for payload := range e.queue {
		e.send(sendCtx, payload)
	}

	e.logger.Info("移行イベント送信ワーカーを停止しました")
}

func (e *Emitter) send(ctx context.Context, payload []byte) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	if err := e.producer.Send(ctx, e.topic, payload); err != nil {
		e.logger.Warn("移行イベントの送信に失敗しました",
			slog.String("topic", e.topic),
			slog.String("error", err.Error()),
		)
		if e.metrics != nil {
			e.metrics.RecordEventFailed()
		}
		return
	}

	e.logger.Info("移行イベントを送信しました", slog.String("topic", e.topic))
	if e.metrics != nil {
		e.metrics.RecordEventSent()
	}
}

// Shutdown は新規イベントの受付を停止し、キューに残ったイベントの送信完了を待つ。
// ctxの期限までに完了しない場合はctx.Err()を返す。
func (e *Emitter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending はキューに残っているイベント数を返す。
func (e *Emitter) Pending() int {
	return len(e.queue)
}

func (e *Emitter) recordDropped() {
	if e.metrics != nil {
		e.metrics.RecordEventDropped()
	}
}
