package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	natsMaxReconnects = -1 // переподключаться без ограничения
	natsReconnectWait = 2 * time.Second
)

// NATSInvalidator реализует ChunkInvalidator через NATS Pub/Sub.
// Узлы с собственным Redis над общим холодным хранилищем сообщают друг другу
// о перезаписанных и удаленных чанках, чтобы сбросить устаревшие копии.
//
// Каждое сообщение несет эпоху узла (время запуска) и порядковый номер.
// NATS доставляет сообщения одного издателя по порядку, поэтому номер не больше
// последнего принятого означает повторную доставку. Собственные сообщения игнорируются.
type NATSInvalidator struct {
	conn           *nats.Conn
	subject        string
	nodeID         string
	epoch          int64
	publishTimeout time.Duration

	seq   uint64
	pubMu sync.Mutex

	subscription *nats.Subscription
	handler      InvalidationHandler
	subMu        sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Последнее принятое сообщение каждого узла
	lastSeen map[string]nodeCursor
	seenMu   sync.Mutex

	published  int64
	received   int64
	duplicates int64
	errors     int64
}

type nodeCursor struct {
	epoch int64
	seq   uint64
}

// InvalidatorConfig адрес NATS и subject рассылки
type InvalidatorConfig struct {
	NATSURL        string
	Subject        string        // по умолчанию "volume.chunks.invalidate"
	PublishTimeout time.Duration // ожидание подтверждения сервером; по умолчанию 5s
}

func (c *InvalidatorConfig) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "volume.chunks.invalidate"
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// InvalidationMessage сообщение об изменении блоба чанка
type InvalidationMessage struct {
	Key    string `json:"key"`
	NodeID string `json:"node_id"`
	Epoch  int64  `json:"epoch"`
	Seq    uint64 `json:"seq"`
}

// InvalidatorStats счетчики рассылки
type InvalidatorStats struct {
	NodeID     string `json:"node_id"`
	Published  int64  `json:"published"`
	Received   int64  `json:"received"`
	Duplicates int64  `json:"duplicates"`
	Errors     int64  `json:"errors"`
	Connected  bool   `json:"connected"`
}

// NewNATSInvalidator подключается к NATS.
// Пустой nodeID заменяется случайным UUID.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config == nil {
		config = &InvalidatorConfig{}
	}
	config.applyDefaults()

	conn, err := nats.Connect(config.NATSURL,
		nats.Name("pagedvolume-invalidator"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := newInvalidator(conn, config, nodeID)
	logging.Info("NATS invalidator initialized: %s (subject: %s, node: %s)", config.NATSURL, n.subject, n.nodeID)
	return n, nil
}

func newInvalidator(conn *nats.Conn, config *InvalidatorConfig, nodeID string) *NATSInvalidator {
	config.applyDefaults()
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &NATSInvalidator{
		conn:           conn,
		subject:        config.Subject,
		nodeID:         nodeID,
		epoch:          time.Now().UnixNano(),
		publishTimeout: config.PublishTimeout,
		stopCh:         make(chan struct{}),
		lastSeen:       make(map[string]nodeCursor),
	}
}

// NodeID идентификатор узла
func (n *NATSInvalidator) NodeID() string {
	return n.nodeID
}

// PublishInvalidation рассылает ключ и ждет, пока сервер примет сообщение.
// Каждая запись публикуется: пропуск повтора мог бы оставить устаревшую копию.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := n.publish(key); err != nil {
		atomic.AddInt64(&n.errors, 1)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.publishTimeout)
	defer cancel()
	if err := n.conn.FlushWithContext(ctx); err != nil {
		atomic.AddInt64(&n.errors, 1)
		return fmt.Errorf("failed to flush invalidation: %w", err)
	}

	atomic.AddInt64(&n.published, 1)
	logging.Debug("Published invalidation for key: %s", key)
	return nil
}

// publish назначает номер и отправляет под pubMu: номера уходят в порядке возрастания
func (n *NATSInvalidator) publish(key string) error {
	n.pubMu.Lock()
	defer n.pubMu.Unlock()

	n.seq++
	data, err := json.Marshal(InvalidationMessage{Key: key, NodeID: n.nodeID, Epoch: n.epoch, Seq: n.seq})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// SubscribeInvalidations подписывается на сообщения других узлов до отмены ctx или Close
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	n.handler = handler
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) { n.handleMessage(msg.Data) })
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	logging.Info("Subscribed to chunk invalidations on subject: %s", n.subject)
	return nil
}

// Close отписывается и закрывает соединение. Повторный вызов ничего не делает.
func (n *NATSInvalidator) Close() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()

	n.unsubscribe()
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

// GetMetrics возвращает счетчики рассылки
func (n *NATSInvalidator) GetMetrics() InvalidatorStats {
	return InvalidatorStats{
		NodeID:     n.nodeID,
		Published:  atomic.LoadInt64(&n.published),
		Received:   atomic.LoadInt64(&n.received),
		Duplicates: atomic.LoadInt64(&n.duplicates),
		Errors:     atomic.LoadInt64(&n.errors),
		Connected:  n.conn != nil && n.conn.IsConnected(),
	}
}

func (n *NATSInvalidator) handleMessage(data []byte) {
	atomic.AddInt64(&n.received, 1)

	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		atomic.AddInt64(&n.errors, 1)
		logging.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if msg.NodeID == n.nodeID {
		return
	}
	if !n.accept(msg) {
		atomic.AddInt64(&n.duplicates, 1)
		logging.Debug("Ignoring redelivered invalidation %s/%d for key %s", msg.NodeID, msg.Seq, msg.Key)
		return
	}

	if n.handler == nil {
		return
	}
	if err := n.handler(msg.Key); err != nil {
		atomic.AddInt64(&n.errors, 1)
		logging.Error("Invalidation handler failed for key %s: %v", msg.Key, err)
	}
}

// accept продвигает курсор узла; false для повторной доставки и сообщений прошлой эпохи
func (n *NATSInvalidator) accept(msg InvalidationMessage) bool {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()

	last, ok := n.lastSeen[msg.NodeID]
	switch {
	case !ok, msg.Epoch > last.epoch:
	case msg.Epoch < last.epoch, msg.Seq <= last.seq:
		return false
	}
	n.lastSeen[msg.NodeID] = nodeCursor{epoch: msg.Epoch, seq: msg.Seq}
	return true
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		logging.Error("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}
