package outbox

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

	"github.com/redis/go-redis/v9"

	"imagestudio/internal/util"
	"imagestudio/pkg/domain"
)

// RedisOutbox buffers image records in a Redis stream. Consumers write the
// records to the relational store; pending entries stranded by a crashed
// consumer are reclaimed after claimIdle.
type RedisOutbox struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	entryTTL     time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	EntryTTL   time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisOutbox(cfg RedisConfig) (*RedisOutbox, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "imagestudio:image-records"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "record-writers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	entryTTL := cfg.EntryTTL
	if entryTTL <= 0 {
		entryTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisOutbox{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		entryTTL:     entryTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

func (o *RedisOutbox) Enqueue(ctx context.Context, img domain.GeneratedImage) (Entry, error) {
	if img.ID == "" {
		return Entry{}, errors.New("image id required")
	}
	record, err := json.Marshal(img)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		ID:        util.NewID(),
		ImageID:   img.ID,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.writeStatus(ctx, entry); err != nil {
		return Entry{}, err
	}
	if err := o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"entry_id": entry.ID,
			"record":   string(record),
		},
	}).Err(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (o *RedisOutbox) Entry(ctx context.Context, entryID string) (Entry, bool, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return Entry{}, false, nil
	}
	data, err := o.client.HGetAll(ctx, o.entryKey(entryID)).Result()
	if err != nil {
		return Entry{}, false, err
	}
	if len(data) == 0 {
		return Entry{}, false, nil
	}
	return decodeEntry(entryID, data), true, nil
}

func (o *RedisOutbox) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	o.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", o.consumerBase, i)
		go o.consumeLoop(ctx, consumer, handler)
	}
}

func (o *RedisOutbox) ensureGroup(ctx context.Context) {
	o.once.Do(func() {
		err := o.client.XGroupCreateMkStream(ctx, o.stream, o.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("outbox group create failed", "stream", o.stream, "group", o.group, "err", err)
		}
	})
}

func (o *RedisOutbox) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := o.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				o.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    o.group,
			Consumer: consumer,
			Streams:  []string{o.stream, ">"},
			Count:    o.readCount,
			Block:    o.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				o.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (o *RedisOutbox) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := o.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   o.stream,
		Group:    o.group,
		Consumer: consumer,
		MinIdle:  o.claimIdle,
		Start:    "0-0",
		Count:    o.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *RedisOutbox) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	entryID, _ := msg.Values["entry_id"].(string)
	record, _ := msg.Values["record"].(string)
	if entryID == "" || record == "" {
		o.ackAndDel(ctx, msg.ID)
		return
	}
	var img domain.GeneratedImage
	if err := json.Unmarshal([]byte(record), &img); err != nil {
		_ = o.markFailed(ctx, entryID, "malformed record: "+err.Error())
		o.ackAndDel(ctx, msg.ID)
		return
	}
	entry, err := o.markProcessing(ctx, entryID, img.ID)
	if err != nil {
		// Leave the message pending so XAutoClaim retries it after claimIdle.
		return
	}
	err = handler(ctx, img)
	if err == nil {
		_ = o.markDone(ctx, entryID)
		o.ackAndDel(ctx, msg.ID)
		return
	}
	if entry.Attempts >= o.maxRetries {
		_ = o.markFailed(ctx, entryID, err.Error())
		o.ackAndDel(ctx, msg.ID)
		return
	}
	_ = o.markQueued(ctx, entryID, err.Error())
	if o.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.retryDelay):
		}
	}
	_ = o.requeueAndAck(ctx, msg.ID, entryID, record)
}

func (o *RedisOutbox) ackAndDel(ctx context.Context, msgID string) {
	_, _ = o.client.XAck(ctx, o.stream, o.group, msgID).Result()
	_, _ = o.client.XDel(ctx, o.stream, msgID).Result()
}

func (o *RedisOutbox) requeueAndAck(ctx context.Context, msgID, entryID, record string) error {
	pipe := o.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"entry_id": entryID,
			"record":   record,
		},
	})
	pipe.XAck(ctx, o.stream, o.group, msgID)
	pipe.XDel(ctx, o.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (o *RedisOutbox) markProcessing(ctx context.Context, entryID, imageID string) (Entry, error) {
	entry, _, err := o.Entry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.ID == "" {
		entry = Entry{ID: entryID}
	}
	if imageID != "" {
		entry.ImageID = imageID
	}
	entry.Attempts++
	entry.Status = StatusProcessing
	entry.UpdatedAt = time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.UpdatedAt
	}
	if err := o.writeStatus(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (o *RedisOutbox) markQueued(ctx context.Context, entryID, errMsg string) error {
	entry, _, err := o.Entry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.Status = StatusQueued
	entry.ErrorMessage = errMsg
	entry.UpdatedAt = time.Now().UTC()
	return o.writeStatus(ctx, entry)
}

func (o *RedisOutbox) markDone(ctx context.Context, entryID string) error {
	entry, _, err := o.Entry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.Status = StatusDone
	entry.ErrorMessage = ""
	entry.UpdatedAt = time.Now().UTC()
	return o.writeStatus(ctx, entry)
}

func (o *RedisOutbox) markFailed(ctx context.Context, entryID, errMsg string) error {
	entry, _, err := o.Entry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry = Entry{ID: entryID, CreatedAt: time.Now().UTC()}
	}
	entry.Status = StatusFailed
	entry.ErrorMessage = errMsg
	entry.UpdatedAt = time.Now().UTC()
	return o.writeStatus(ctx, entry)
}

func (o *RedisOutbox) writeStatus(ctx context.Context, entry Entry) error {
	key := o.entryKey(entry.ID)
	payload := map[string]any{
		"id":        entry.ID,
		"imageId":   entry.ImageID,
		"status":    entry.Status,
		"error":     entry.ErrorMessage,
		"attempts":  strconv.Itoa(entry.Attempts),
		"createdAt": entry.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": entry.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := o.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = o.client.Expire(ctx, key, o.entryTTL).Err()
	return nil
}

func (o *RedisOutbox) entryKey(entryID string) string {
	return fmt.Sprintf("outbox:%s:%s", o.stream, entryID)
}

func decodeEntry(entryID string, data map[string]string) Entry {
	entry := Entry{ID: entryID}
	entry.ImageID = data["imageId"]
	entry.Status = data["status"]
	entry.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			entry.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			entry.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			entry.UpdatedAt = t
		}
	}
	return entry
}
