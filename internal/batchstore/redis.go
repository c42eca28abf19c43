package batchstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftlab/lineage/pkg/types"
)

// RedisStore implements BatchStore backed by Redis.
// Uses Redis Streams for event streaming and hashes for batch metadata.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.Mutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "batches")
	Prefix string

	// TTL for batch data (default: 7 days)
	TTL time.Duration

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "batches",
		TTL:          7 * 24 * time.Hour,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed BatchStore.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}

	// Parse URL if provided
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "batches"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

// Key helpers
func (s *RedisStore) keyMeta(batchID string) string {
	return fmt.Sprintf("%s:%s:meta", s.prefix, batchID)
}
func (s *RedisStore) keyState(batchID string) string {
	return fmt.Sprintf("%s:%s:state", s.prefix, batchID)
}
func (s *RedisStore) keyEvents(batchID string) string {
	return fmt.Sprintf("%s:%s:events", s.prefix, batchID)
}
func (s *RedisStore) keySeq(batchID string) string {
	return fmt.Sprintf("%s:%s:seq", s.prefix, batchID)
}

// setTTL refreshes TTL on all keys for a batch.
func (s *RedisStore) setTTL(ctx context.Context, batchID string) error {
	if s.ttl <= 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.keyMeta(batchID), s.ttl)
	pipe.Expire(ctx, s.keyState(batchID), s.ttl)
	pipe.Expire(ctx, s.keyEvents(batchID), s.ttl)
	pipe.Expire(ctx, s.keySeq(batchID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// CreateBatch creates a new batch record.
func (s *RedisStore) CreateBatch(ctx context.Context, actionType, graphID string, state *types.ActionState) (string, error) {
	batchID := uuid.New().String()
	now := time.Now().UTC()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	pipe := s.client.Pipeline()

	pipe.HSet(ctx, s.keyMeta(batchID), map[string]interface{}{
		"batchId":    batchID,
		"actionType": actionType,
		"graphId":    graphID,
		"createdAt":  now.Format(time.RFC3339),
		"updatedAt":  now.Format(time.RFC3339),
	})
	pipe.Set(ctx, s.keyState(batchID), string(stateJSON), 0)
	pipe.Set(ctx, s.keySeq(batchID), "0", 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}

	if err := s.setTTL(ctx, batchID); err != nil {
		slog.Warn("failed to set TTL for batch", slog.String("batch_id", batchID), slog.Any("error", err))
	}

	return batchID, nil
}

// GetBatch returns the full batch including action state.
func (s *RedisStore) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	pipe := s.client.Pipeline()
	metaCmd := pipe.HGetAll(ctx, s.keyMeta(batchID))
	stateCmd := pipe.Get(ctx, s.keyState(batchID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	meta, err := metaCmd.Result()
	if err != nil || len(meta) == 0 {
		return nil, ErrBatchNotFound
	}

	batch := &types.Batch{
		ID:         batchID,
		ActionType: meta["actionType"],
		GraphID:    meta["graphId"],
	}

	if meta["createdAt"] != "" {
		if t, err := time.Parse(time.RFC3339, meta["createdAt"]); err == nil {
			batch.CreatedAt = t
		}
	}
	if meta["updatedAt"] != "" {
		if t, err := time.Parse(time.RFC3339, meta["updatedAt"]); err == nil {
			batch.UpdatedAt = t
		}
	}

	if stateJSON, err := stateCmd.Result(); err == nil && stateJSON != "" {
		var state types.ActionState
		if json.Unmarshal([]byte(stateJSON), &state) == nil {
			batch.State = &state
		}
	}

	return batch, nil
}

// ListBatches returns all batch IDs.
func (s *RedisStore) ListBatches(ctx context.Context) ([]string, error) {
	pattern := fmt.Sprintf("%s:*:meta", s.prefix)
	var batchIDs []string
	var cursor uint64

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan batches: %w", err)
		}

		for _, key := range keys {
			// Extract batch ID from key pattern: prefix:batchID:meta
			parts := strings.Split(key, ":")
			if len(parts) >= 3 {
				batchIDs = append(batchIDs, parts[1])
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return batchIDs, nil
}

// UpdateState replaces the batch's action state.
func (s *RedisStore) UpdateState(ctx context.Context, batchID string, state *types.ActionState) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(batchID)).Result()
	if err != nil {
		return fmt.Errorf("check batch exists: %w", err)
	}
	if exists == 0 {
		return ErrBatchNotFound
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.keyState(batchID), string(stateJSON), 0)
	pipe.HSet(ctx, s.keyMeta(batchID), "updatedAt", time.Now().UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update state: %w", err)
	}

	// Refresh TTL
	s.setTTL(ctx, batchID)

	return nil
}

// AppendEvent adds an event to the batch's stream.
func (s *RedisStore) AppendEvent(ctx context.Context, batchID string, input *types.EventInput) (*types.Event, error) {
	// Increment sequence atomically
	seq, err := s.client.Incr(ctx, s.keySeq(batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("incr seq: %w", err)
	}

	now := time.Now().UTC()
	eventID := strconv.FormatInt(seq, 10)

	dataBytes, _ := json.Marshal(input.Data)

	event := &types.Event{
		ID:        eventID,
		BatchID:   batchID,
		Type:      input.Type,
		NodeKey:   input.NodeKey,
		Timestamp: now,
		Data:      dataBytes,
	}

	// Add to Redis Stream with MAXLEN
	streamFields := map[string]interface{}{
		"seq":     eventID,
		"ts":      now.Format(time.RFC3339),
		"type":    string(input.Type),
		"data":    string(dataBytes),
		"nodeKey": input.NodeKey,
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyEvents(batchID),
		MaxLen: 5000,
		Approx: true,
		Values: streamFields,
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}

	// Refresh TTL
	s.setTTL(ctx, batchID)

	// Subscribers receive the event through their stream readers.
	return event, nil
}

// GetEventsSince returns events after the given event ID.
func (s *RedisStore) GetEventsSince(ctx context.Context, batchID string, lastEventID string) ([]*types.Event, error) {
	entries, err := s.client.XRange(ctx, s.keyEvents(batchID), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*types.Event{}, nil
		}
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	var events []*types.Event
	for _, entry := range entries {
		event := decodeStreamEntry(batchID, entry.Values)
		seq, _ := strconv.ParseInt(event.ID, 10, 64)
		if lastSeq > 0 && seq <= lastSeq {
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// Subscribe returns a channel that receives new events. A background reader
// tails the batch's Redis Stream, so events appended by any process reach the
// subscriber exactly once. The channel is never closed; cleanup stops the
// reader and the channel is garbage collected with it.
func (s *RedisStore) Subscribe(ctx context.Context, batchID string) (<-chan *types.Event, func(), error) {
	exists, err := s.client.Exists(ctx, s.keyMeta(batchID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("check batch exists: %w", err)
	}
	if exists == 0 {
		return nil, nil, ErrBatchNotFound
	}

	ch := make(chan *types.Event, 100)
	done := make(chan struct{})

	go s.streamReader(ctx, batchID, ch, done)

	cleanup := func() {
		close(done)
	}

	return ch, cleanup, nil
}

// streamReader tails the batch's Redis Stream and pushes events to ch until
// the subscription is cleaned up or the context ends. Only the reader sends
// on ch, and nobody closes it, so a cleanup racing a delivery cannot panic.
func (s *RedisStore) streamReader(ctx context.Context, batchID string, ch chan *types.Event, done <-chan struct{}) {
	lastID := "$" // Start from latest

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.keyEvents(batchID), lastID},
			Count:   10,
			Block:   time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			// On error, wait briefly then retry
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				lastID = entry.ID
				event := decodeStreamEntry(batchID, entry.Values)

				select {
				case ch <- event:
				case <-done:
					return
				case <-ctx.Done():
					return
				default:
					// Channel full, skip event
				}
			}
		}
	}
}

// decodeStreamEntry rebuilds an Event from the fields stored in a Redis
// Stream entry.
func decodeStreamEntry(batchID string, values map[string]interface{}) *types.Event {
	seqStr, _ := values["seq"].(string)
	ts, _ := values["ts"].(string)
	timestamp, _ := time.Parse(time.RFC3339, ts)
	eventType, _ := values["type"].(string)
	data, _ := values["data"].(string)
	nodeKey, _ := values["nodeKey"].(string)

	return &types.Event{
		ID:        seqStr,
		BatchID:   batchID,
		Type:      types.EventType(eventType),
		NodeKey:   nodeKey,
		Timestamp: timestamp,
		Data:      json.RawMessage(data),
	}
}

// AdapterInfo returns diagnostic information.
func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	// Ping test
	pingStart := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]interface{}{
			"adapter": "redis",
			"healthy": false,
			"error":   err.Error(),
		}, nil
	}
	pingLatency := time.Since(pingStart)

	poolStats := s.client.PoolStats()

	return map[string]interface{}{
		"adapter": "redis",
		"healthy": true,
		"details": map[string]interface{}{
			"prefix":       s.prefix,
			"ttl_hours":    s.ttl.Hours(),
			"ping_latency": pingLatency.String(),
			"pool": map[string]interface{}{
				"hits":       poolStats.Hits,
				"misses":     poolStats.Misses,
				"timeouts":   poolStats.Timeouts,
				"total_conn": poolStats.TotalConns,
				"idle_conn":  poolStats.IdleConns,
				"stale_conn": poolStats.StaleConns,
			},
		},
	}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.client.Close()
}

// Ensure RedisStore implements BatchStore
var _ BatchStore = (*RedisStore)(nil)
