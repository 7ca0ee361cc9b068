package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cespare/xxhash/v2"
)

// KafkaDispatcher 场景事件的异步投递
// - ApplyPatch 只负责入队，不等 Kafka
// - 按场景 ID 分片到固定 worker，同一场景的事件按应用顺序发出
// - 队列满时等到 ctx 超时后放弃，避免内存无限增长
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	shards []chan SceneOpEvent

	// 限制并发的 SendMessage 数量
	sendSem *SemaphoreControl

	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
	log       *slog.Logger
}

type KafkaDispatcherOptions struct {
	QueueSize   int // 所有分片合计
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultKafkaDispatcherOptions() KafkaDispatcherOptions {
	return KafkaDispatcherOptions{
		QueueSize:   1024,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sendSem *SemaphoreControl, opt KafkaDispatcherOptions, logger *slog.Logger) *KafkaDispatcher {
	workers := max(opt.Workers, 1)
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		shards:      make([]chan SceneOpEvent, workers),
		sendSem:     sendSem,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		log:         logger,
	}
	for i := range d.shards {
		d.shards[i] = make(chan SceneOpEvent, max(opt.QueueSize/workers, 1))
		d.wg.Add(1)
		go d.workerLoop(d.shards[i])
	}
	return d
}

func (d *KafkaDispatcher) shardFor(sceneID string) chan SceneOpEvent {
	return d.shards[xxhash.Sum64String(sceneID)%uint64(len(d.shards))]
}

// Enqueue 放入场景所在分片；分片满时等待直到 ctx 结束
// 事件流不要求强一致，超时丢弃即可
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt SceneOpEvent) error {
	select {
	case d.shardFor(evt.SceneID) <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收并等待队列中剩余事件发送完毕；之后不能再 Enqueue
func (d *KafkaDispatcher) Close() {
	d.closeOnce.Do(func() {
		for _, ch := range d.shards {
			close(ch)
		}
	})
	d.wg.Wait()
}

func (d *KafkaDispatcher) workerLoop(queue <-chan SceneOpEvent) {
	defer d.wg.Done()
	for evt := range queue {
		d.deliver(evt)
	}
}

// deliver 同一场景后续事件排在它后面，所以重试在当前 worker 里完成
func (d *KafkaDispatcher) deliver(evt SceneOpEvent) {
	if d.producer == nil || d.topic == "" {
		return
	}
	msg, err := d.message(evt)
	if err != nil {
		d.log.Error("kafka: encode scene event failed, drop", "scene", evt.SceneID, "op", evt.OperationID, "err", err)
		return
	}

	for attempt := 0; ; attempt++ {
		if d.sendSem != nil {
			// worker 可以一直等，不影响补丁主链路
			_ = d.sendSem.Acquire(context.Background())
		}
		_, _, err = d.producer.SendMessage(msg)
		if d.sendSem != nil {
			_ = d.sendSem.Release()
		}
		if err == nil {
			return
		}
		if !retryable(err) || attempt >= d.maxRetry {
			d.log.Warn("kafka: scene event dropped",
				"scene", evt.SceneID, "op", evt.OperationID, "fingerprint", evt.Fingerprint, "attempts", attempt+1, "err", err)
			return
		}
		time.Sleep(d.backoff(attempt))
	}
}

func (d *KafkaDispatcher) message(evt SceneOpEvent) (*sarama.ProducerMessage, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: d.topic,
		// 按场景分区，消费端看到的顺序与应用顺序一致
		Key:   sarama.StringEncoder(evt.SceneID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(evt.EventType)},
			{Key: []byte("operation-id"), Value: []byte(evt.OperationID)},
		},
	}, nil
}

// 指数退避，封顶 maxBackoff
func (d *KafkaDispatcher) backoff(attempt int) time.Duration {
	return min(d.baseBackoff*time.Duration(1<<attempt), d.maxBackoff)
}

// 消息本身有问题时重试也不会成功
func retryable(err error) bool {
	switch {
	case errors.Is(err, sarama.ErrMessageSizeTooLarge),
		errors.Is(err, sarama.ErrInvalidMessage),
		errors.Is(err, sarama.ErrInvalidMessageSize),
		errors.Is(err, sarama.ErrInvalidTopic),
		errors.Is(err, sarama.ErrTopicAuthorizationFailed):
		return false
	}
	return true
}
