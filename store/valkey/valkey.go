// Package valkey provides a Valkey-backed store backend for deployments where
// several contexts share one auth state. Mutations are published on a Valkey
// channel; other contexts observe them as external changes, the local context
// is notified synchronously.
package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/questline/authbridge/security"
	"github.com/questline/authbridge/store"
)

const (
	defaultKeyPrefix   = "authbridge:"
	defaultChannelName = "authbridge:changes"
	defaultKeyTTL      = 30 * 24 * time.Hour
)

// Config holds Valkey connection settings.
type Config struct {
	// Address is the host:port of the Valkey server
	Address string

	// Password is the optional AUTH password
	Password string

	// KeyPrefix namespaces all keys (default "authbridge:")
	KeyPrefix string

	// ChannelName is the pub/sub channel for change propagation
	// (default "authbridge:changes")
	ChannelName string

	// KeyTTL bounds how long auth state may linger without a write
	// (default 30 days)
	KeyTTL time.Duration

	// Logger receives subscription errors; nil falls back to slog.Default()
	Logger *slog.Logger
}

// Store is a Valkey-backed KV backend.
type Store struct {
	client    valkeygo.Client
	prefix    string
	channel   string
	ttl       time.Duration
	originID  string
	logger    *slog.Logger
	encryptor *security.Encryptor

	mu          sync.RWMutex
	subscribers map[int]func(store.Change)
	nextSubID   int

	cancelRecv context.CancelFunc
	recvDone   chan struct{}
}

// changeMessage is the pub/sub wire format for a propagated mutation.
type changeMessage struct {
	Origin string    `json:"origin"`
	Key    store.Key `json:"key"`
	Op     store.Op  `json:"op"`
}

// New connects to Valkey, verifies the connection with a ping, and starts the
// change-subscription loop.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = defaultChannelName
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = defaultKeyTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating valkey client: %w", err)
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging valkey: %w", err)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		client:      client,
		prefix:      cfg.KeyPrefix,
		channel:     cfg.ChannelName,
		ttl:         cfg.KeyTTL,
		originID:    uuid.NewString(),
		logger:      cfg.Logger,
		subscribers: make(map[int]func(store.Change)),
		cancelRecv:  cancel,
		recvDone:    make(chan struct{}),
	}
	go s.receiveLoop(recvCtx)
	return s, nil
}

// SetEncryptor enables encryption at rest for stored values. Must be called
// before the store is used.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
}

// Get implements store.KV.
func (s *Store) Get(ctx context.Context, key store.Key) (string, error) {
	value, err := s.client.Do(ctx, s.client.B().Get().Key(s.prefixed(key)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	if s.encryptor != nil && s.encryptor.Enabled() {
		plain, err := s.encryptor.Decrypt(value)
		if err != nil {
			return "", fmt.Errorf("decrypting %s: %w", key, err)
		}
		return plain, nil
	}
	return value, nil
}

// Set implements store.KV.
func (s *Store) Set(ctx context.Context, key store.Key, value string) error {
	stored := value
	if s.encryptor != nil && s.encryptor.Enabled() {
		enc, err := s.encryptor.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", key, err)
		}
		stored = enc
	}
	cmd := s.client.B().Set().Key(s.prefixed(key)).Value(stored).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	s.notifyLocal(store.Change{Key: key, Op: store.OpSet})
	s.publish(ctx, changeMessage{Origin: s.originID, Key: key, Op: store.OpSet})
	return nil
}

// Delete implements store.KV.
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	removed, err := s.client.Do(ctx, s.client.B().Del().Key(s.prefixed(key)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if removed == 0 {
		return nil
	}
	s.notifyLocal(store.Change{Key: key, Op: store.OpDelete})
	s.publish(ctx, changeMessage{Origin: s.originID, Key: key, Op: store.OpDelete})
	return nil
}

// Subscribe implements store.KV.
func (s *Store) Subscribe(fn func(store.Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Close implements store.KV.
func (s *Store) Close() error {
	s.cancelRecv()
	<-s.recvDone
	s.client.Close()
	return nil
}

func (s *Store) prefixed(key store.Key) string {
	return s.prefix + string(key)
}

func (s *Store) publish(ctx context.Context, msg changeMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("encoding change message failed", "error", err)
		return
	}
	cmd := s.client.B().Publish().Channel(s.channel).Message(string(raw)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		// Local subscribers were already notified; propagation to other
		// contexts is best effort.
		s.logger.Warn("publishing change message failed", "key", msg.Key, "error", err)
	}
}

// receiveLoop consumes the change channel until the store is closed. Messages
// published by this store instance are skipped; everything else is delivered
// to subscribers as an external change.
func (s *Store) receiveLoop(ctx context.Context) {
	defer close(s.recvDone)

	cmd := s.client.B().Subscribe().Channel(s.channel).Build()
	err := s.client.Receive(ctx, cmd, func(msg valkeygo.PubSubMessage) {
		var change changeMessage
		if err := json.Unmarshal([]byte(msg.Message), &change); err != nil {
			s.logger.Warn("decoding change message failed", "error", err)
			return
		}
		if change.Origin == s.originID {
			return
		}
		s.notifyLocal(store.Change{Key: change.Key, Op: change.Op, External: true})
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("change subscription ended", "error", err)
	}
}

func (s *Store) notifyLocal(change store.Change) {
	s.mu.RLock()
	fns := make([]func(store.Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

var _ store.KV = (*Store)(nil)
