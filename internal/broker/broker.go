// Package broker owns the connection to the log broker: a pool of
// clients keyed by resource id and per-topic producers bound to them.
// The bridge lifecycle talks to the Pool interface only; the sarama
// driver is the production implementation.
package broker

import (
	"errors"
	"time"

	"kbridge/internal/auth"
	"kbridge/internal/buffer"
	"kbridge/internal/endpoint"
)

var (
	ErrForeignHandle = errors.New("broker: handle belongs to a different pool")
	ErrBufferFull    = errors.New("broker: producer buffer full")
	ErrStopped       = errors.New("broker: producer stopped")
)

// Record is one outbound wire record.
type Record struct {
	Key       []byte `json:"k,omitempty"`
	Value     []byte `json:"v,omitempty"`
	Timestamp int64  `json:"t"`
}

// AckFunc is invoked once per record on delivery outcome. partition and
// offset are -1 on failure.
type AckFunc func(partition int32, offset int64, err error)

// Client and Producer are opaque handles owned by the pool that issued
// them.
type Client interface {
	ID() string
}

type Producer interface {
	Topic() string
}

// ClientConfig carries everything needed to build the client/producer
// topology. Producer tuning lives here too because the underlying
// library configures batching and acks at the client level.
type ClientConfig struct {
	ConnectTimeout  time.Duration
	MetadataTimeout time.Duration
	MetadataRefresh time.Duration
	SocketOpts      []endpoint.SocketOption
	Credentials     auth.Credentials
	TLS             auth.TLSOptions

	RequiredAcks      string // all|leader|none
	Compression       string // none|gzip|snappy|lz4|zstd
	PartitionStrategy string // random|roundrobin|key_dispatch
	MaxBatchBytes     int
	MaxInflight       int
}

type ProducerConfig struct {
	Plan buffer.Plan
}

// Pool is the broker client collaborator. EnsureClient/EnsureProducer
// are idempotent per key; Stop* are no-ops for unknown handles.
type Pool interface {
	EnsureClient(id string, eps []endpoint.Endpoint, cfg ClientConfig) (Client, error)
	EnsureProducer(c Client, topic string, cfg ProducerConfig) (Producer, error)
	Send(p Producer, rec Record, ack AckFunc) error
	StopProducer(p Producer) error
	StopClient(id string) error
	Connected(c Client) (bool, error)
}
