// Package sink delivers launch snapshots to downstream consumers.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/84hero/launch-indexer/internal/webhook"
	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/log"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Output defines the interface for snapshot delivery
type Output interface {
	Name() string
	Send(ctx context.Context, snap Snapshot) error
	Close() error
}

// --- 1. Webhook Output ---

type WebhookOutput struct {
	client   *webhook.Client
	async    bool
	queue    chan Snapshot
	wg       sync.WaitGroup
	closed   bool
	closedMu sync.Mutex
}

func NewWebhookOutput(cfg webhook.Config, async bool, bufferSize, workers int) *WebhookOutput {
	wo := &WebhookOutput{
		client: webhook.NewClient(cfg),
		async:  async,
	}

	if async {
		if bufferSize <= 0 {
			bufferSize = 16
		}
		if workers <= 0 {
			workers = 1
		}
		wo.queue = make(chan Snapshot, bufferSize)
		for i := 0; i < workers; i++ {
			wo.wg.Add(1)
			go wo.worker()
		}
	}

	return wo
}

func (w *WebhookOutput) Name() string { return "webhook" }

func (w *WebhookOutput) worker() {
	defer w.wg.Done()
	for snap := range w.queue {
		if err := w.deliver(context.Background(), snap); err != nil {
			log.Error("Async webhook delivery failed", "snapshot", snap.ID, "err", err)
		}
	}
}

func (w *WebhookOutput) deliver(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return w.client.Send(ctx, SnapshotEvent, data)
}

func (w *WebhookOutput) Send(ctx context.Context, snap Snapshot) error {
	if w.async {
		w.closedMu.Lock()
		defer w.closedMu.Unlock()
		if w.closed {
			return fmt.Errorf("webhook output is closed")
		}
		select {
		case w.queue <- snap:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.deliver(ctx, snap)
}

func (w *WebhookOutput) Close() error {
	if w.async {
		w.closedMu.Lock()
		if !w.closed {
			w.closed = true
			close(w.queue)
		}
		w.closedMu.Unlock()
		w.wg.Wait()
	}
	return nil
}

// --- 2. File Output ---

// FileOutput appends one JSON line per snapshot.
type FileOutput struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileOutput{path: path, file: f}, nil
}

func (f *FileOutput) Name() string { return "file" }

func (f *FileOutput) Send(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.NewEncoder(f.file).Encode(snap)
}

func (f *FileOutput) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// --- 3. Console Output ---

// ConsoleOutput prints a one-line summary per snapshot, or the full JSON when verbose.
type ConsoleOutput struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func NewConsoleOutput(verbose bool) *ConsoleOutput {
	return &ConsoleOutput{w: os.Stdout, verbose: verbose}
}

func (c *ConsoleOutput) Name() string { return "console" }

func (c *ConsoleOutput) Send(_ context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verbose {
		return json.NewEncoder(c.w).Encode(snap)
	}
	_, err := fmt.Fprintf(c.w, "[%s] feed=%s block=%d launches=%d new=%d\n",
		snap.At.Format(time.RFC3339), snap.Feed, snap.IndexedToBlock, len(snap.Entities), len(snap.NewKeys))
	return err
}

func (c *ConsoleOutput) Close() error { return nil }

// --- 4. PostgreSQL Output ---

// postgresBatch keeps each INSERT well under the 65535 parameter limit.
const postgresBatch = 1000

// PostgresOutput upserts one row per launch so consumers can query the current set.
type PostgresOutput struct {
	db    *sql.DB
	table string
}

func NewPostgresOutput(url, table string) (*PostgresOutput, error) {
	if match, _ := regexp.MatchString("^[a-zA-Z0-9_]+$", table); !match {
		return nil, fmt.Errorf("invalid table name: %s", table)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			chain_id TEXT NOT NULL,
			feed TEXT NOT NULL,
			entity_key TEXT NOT NULL,
			name TEXT,
			symbol TEXT,
			finalized BOOLEAN NOT NULL DEFAULT FALSE,
			indexed_to_block BIGINT,
			data JSONB,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (chain_id, feed, entity_key)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_feed ON %s (chain_id, feed);
	`, table, table, table)
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &PostgresOutput{db: db, table: table}, nil
}

func (p *PostgresOutput) Name() string { return "postgres" }

func (p *PostgresOutput) Send(ctx context.Context, snap Snapshot) error {
	if len(snap.Entities) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for start := 0; start < len(snap.Entities); start += postgresBatch {
		end := start + postgresBatch
		if end > len(snap.Entities) {
			end = len(snap.Entities)
		}
		if err := p.upsert(ctx, tx, snap, snap.Entities[start:end]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresOutput) upsert(ctx context.Context, tx *sql.Tx, snap Snapshot, batch []launch.Record) error {
	const cols = 8
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)
	for i, r := range batch {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		n := i * cols
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8))
		valueArgs = append(valueArgs, snap.ChainID, snap.Feed, r.EntityKey, r.Name, r.Symbol, r.Finalized, snap.IndexedToBlock, data)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (chain_id, feed, entity_key, name, symbol, finalized, indexed_to_block, data) VALUES %s
		ON CONFLICT (chain_id, feed, entity_key) DO UPDATE SET
			name = EXCLUDED.name, symbol = EXCLUDED.symbol, finalized = EXCLUDED.finalized,
			indexed_to_block = EXCLUDED.indexed_to_block, data = EXCLUDED.data, updated_at = NOW()`,
		p.table, strings.Join(valueStrings, ","))
	_, err := tx.ExecContext(ctx, stmt, valueArgs...)
	return err
}

func (p *PostgresOutput) Close() error { return p.db.Close() }

// --- 5. Redis Output ---

// RedisOutput pushes snapshots onto a list ("list") or publishes them on a channel ("pubsub").
type RedisOutput struct {
	client *redis.Client
	key    string
	mode   string
}

func NewRedisOutput(addr, password string, db int, key, mode string) (*RedisOutput, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisOutput{client: rdb, key: key, mode: mode}, nil
}

func (r *RedisOutput) Name() string { return "redis" }

func (r *RedisOutput) Send(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if r.mode == "pubsub" {
		return r.client.Publish(ctx, r.key, data).Err()
	}
	return r.client.LPush(ctx, r.key, data).Err()
}

func (r *RedisOutput) Close() error { return r.client.Close() }

// --- 6. Kafka Output ---

type KafkaOutput struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaOutput(brokers []string, topic, user, password string) (*KafkaOutput, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	// snapshots of large feeds exceed the 1MB default
	config.Producer.MaxMessageBytes = 16 << 20
	config.Producer.Compression = sarama.CompressionSnappy
	if user != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = user
		config.Net.SASL.Password = password
	}
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &KafkaOutput{producer: producer, topic: topic}, nil
}

func (k *KafkaOutput) Name() string { return "kafka" }

func (k *KafkaOutput) Send(_ context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// keyed by feed so one feed's snapshots stay ordered within a partition
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(snap.ChainID + "." + snap.Feed),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

func (k *KafkaOutput) Close() error { return k.producer.Close() }

// --- 7. RabbitMQ Output ---

type RabbitMQOutput struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewRabbitMQOutput(url, exchange, routingKey, queueName string, durable bool) (*RabbitMQOutput, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", durable, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}
	if queueName != "" {
		q, err := ch.QueueDeclare(queueName, durable, false, false, false, nil)
		if err == nil && exchange != "" {
			err = ch.QueueBind(q.Name, routingKey, exchange, false, nil)
		}
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}
	return &RabbitMQOutput{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (r *RabbitMQOutput) Name() string { return "rabbitmq" }

func (r *RabbitMQOutput) Send(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.ch.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    snap.ID,
		Type:         SnapshotEvent,
		Timestamp:    snap.At,
		Body:         data,
	})
}

func (r *RabbitMQOutput) Close() error {
	r.ch.Close()
	return r.conn.Close()
}
