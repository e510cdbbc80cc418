package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Mirror receives state snapshots after every change. Implementations must
// not block the hub.
type Mirror interface {
	PublishRoster(roster []Participant)
	PublishHistory(history []ChatMessage)
}

const (
	rosterKey    = "meshcall:roster"
	historyKey   = "meshcall:chat"
	mirrorWrites = 2 * time.Second
)

// RedisMirror copies the roster into a Redis hash (id -> name) and the chat
// log into a msgpack blob. A single worker writes; only the newest pending
// snapshot of each kind is kept.
type RedisMirror struct {
	rdb       *redis.Client
	rosters   chan []Participant
	histories chan []ChatMessage
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	log       *slog.Logger
}

// NewRedisMirror connects to url (redis://host:port/db) and starts the worker.
func NewRedisMirror(ctx context.Context, url string, log *slog.Logger) (*RedisMirror, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	m := &RedisMirror{
		rdb:       rdb,
		rosters:   make(chan []Participant, 1),
		histories: make(chan []ChatMessage, 1),
		done:      make(chan struct{}),
		log:       log.With("component", "redis-mirror"),
	}

	m.wg.Add(1)
	go m.run()

	return m, nil
}

func (m *RedisMirror) PublishRoster(roster []Participant) {
	offerLatest(m.rosters, roster)
}

func (m *RedisMirror) PublishHistory(history []ChatMessage) {
	offerLatest(m.histories, history)
}

// LoadHistory returns the persisted chat log, or nil when none is stored.
func (m *RedisMirror) LoadHistory(ctx context.Context) ([]ChatMessage, error) {
	b, err := m.rdb.Get(ctx, historyKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeHistory(b)
}

// Close stops the worker and the Redis client.
func (m *RedisMirror) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		err = m.rdb.Close()
	})
	return err
}

func (m *RedisMirror) run() {
	defer m.wg.Done()

	for {
		select {
		case roster := <-m.rosters:
			if err := m.storeRoster(roster); err != nil {
				m.log.Warn("roster mirror failed", "error", err)
			}
		case history := <-m.histories:
			if err := m.storeHistory(history); err != nil {
				m.log.Warn("history mirror failed", "error", err)
			}
		case <-m.done:
			return
		}
	}
}

func (m *RedisMirror) storeRoster(roster []Participant) error {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWrites)
	defer cancel()

	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, rosterKey)
		if len(roster) == 0 {
			return nil
		}
		fields := make([]any, 0, len(roster)*2)
		for _, pt := range roster {
			fields = append(fields, pt.ID, pt.Name)
		}
		p.HSet(ctx, rosterKey, fields...)
		return nil
	})
	return err
}

func (m *RedisMirror) storeHistory(history []ChatMessage) error {
	b, err := encodeHistory(history)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorWrites)
	defer cancel()

	return m.rdb.Set(ctx, historyKey, b, 0).Err()
}

func encodeHistory(history []ChatMessage) ([]byte, error) {
	return msgpack.Marshal(history)
}

func decodeHistory(b []byte) ([]ChatMessage, error) {
	var history []ChatMessage
	if err := msgpack.Unmarshal(b, &history); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	return history, nil
}

// offerLatest puts v on a one-slot channel, replacing whatever is waiting.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
