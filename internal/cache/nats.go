package cache

import (
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/latticemcp/lattice/internal/config"
)

// NATSKV is the shared L2 tier over a JetStream key-value bucket. All
// teammates pointed at the same bucket share warm results; entries age
// out via the bucket TTL.
type NATSKV struct {
	nc     *nats.Conn
	kv     nats.KeyValue
	logger *slog.Logger
}

// NewNATSKV connects to the configured server and binds the bucket,
// creating it with the configured TTL when absent.
func NewNATSKV(cfg config.L2Config, logger *slog.Logger) (*NATSKV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("lattice-cache"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: cfg.Bucket,
			TTL:    cfg.TTL,
		})
	}
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSKV{
		nc:     nc,
		kv:     kv,
		logger: logger.With("component", "cache.l2"),
	}, nil
}

// Get returns the stored payload. A connectivity error degrades to a
// miss; L2 is an accelerator, never a source of truth.
func (n *NATSKV) Get(key string) ([]byte, bool) {
	entry, err := n.kv.Get(key)
	if err != nil {
		if !errors.Is(err, nats.ErrKeyNotFound) {
			n.logger.Warn("l2 get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return entry.Value(), true
}

func (n *NATSKV) Put(key string, value []byte) {
	if _, err := n.kv.Put(key, value); err != nil {
		n.logger.Warn("l2 put failed", "key", key, "error", err)
	}
}

func (n *NATSKV) Delete(key string) {
	if err := n.kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		n.logger.Warn("l2 delete failed", "key", key, "error", err)
	}
}

// Close drains the connection so pending puts flush.
func (n *NATSKV) Close() {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
	}
}
