package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Auth selects one of a small closed set of mechanisms. Fields beyond
// Mechanism are only read for the variant they belong to.
type Auth struct {
	Mechanism   string `koanf:"mechanism"` // none|plain|kerberos
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	Principal   string `koanf:"principal"`
	KeytabFile  string `koanf:"keytab_file"`
	Realm       string `koanf:"realm"`
	ServiceName string `koanf:"service_name"`
}

type TLS struct {
	Enabled    bool   `koanf:"enabled"`
	CertFile   string `koanf:"cert_file"`
	KeyFile    string `koanf:"key_file"`
	CAFile     string `koanf:"ca_file"`
	VerifyPeer bool   `koanf:"verify"`
}

// MessageTemplate holds the raw template fragments; compiled once at
// bridge start.
type MessageTemplate struct {
	Key       string `koanf:"key"`
	Value     string `koanf:"value"`
	Timestamp string `koanf:"timestamp"`
}

type Buffer struct {
	Mode                     string `koanf:"mode"` // memory|disk|hybrid
	PerPartitionLimit        int64  `koanf:"per_partition_limit"`
	SegmentBytes             int64  `koanf:"segment_bytes"`
	MemoryOverloadProtection bool   `koanf:"memory_overload_protection"`
}

type Producer struct {
	Topic             string           `koanf:"topic"`
	Template          *MessageTemplate `koanf:"message_template"`
	MaxBatchBytes     int              `koanf:"max_batch_bytes"`
	Compression       string           `koanf:"compression"`
	PartitionStrategy string           `koanf:"partition_strategy"`
	RequiredAcks      string           `koanf:"required_acks"` // all|leader|none
	PartitionRefresh  time.Duration    `koanf:"partition_count_refresh_interval"`
	MaxInflight       int              `koanf:"max_inflight"`
	Buffer            Buffer           `koanf:"buffer"`
}

// Bridge is the fully resolved configuration of one producer bridge.
// Servers accepts either a comma separated string or a list; the
// endpoint resolver owns the parsing.
type Bridge struct {
	Servers         any            `koanf:"servers"`
	ConnectTimeout  time.Duration  `koanf:"connect_timeout"`
	MetadataTimeout time.Duration  `koanf:"metadata_request_timeout"`
	SocketOpts      map[string]int `koanf:"socket_opts"`
	Auth            Auth           `koanf:"auth"`
	TLS             TLS            `koanf:"ssl"`
	Producer        *Producer      `koanf:"producer"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

const supportedSchema = "v1"

// LoadBridge merges YAML (if present) with env-vars
// (prefix `KBRIDGE__`, delimiter `__`).
func LoadBridge(path string) (Bridge, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Bridge{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != supportedSchema {
		return Bridge{}, fmt.Errorf("bridge schema_version %q not supported (want %s)", sv, supportedSchema)
	}

	_ = k.Load(env.Provider("KBRIDGE__", "__", nil), nil)

	var cfg Bridge
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Bridge) {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.MetadataTimeout == 0 {
		c.MetadataTimeout = 30 * time.Second
	}
	if c.Producer == nil {
		return
	}
	p := c.Producer
	if p.Compression == "" {
		p.Compression = "none"
	}
	if p.PartitionStrategy == "" {
		p.PartitionStrategy = "random"
	}
	if p.RequiredAcks == "" {
		p.RequiredAcks = "all"
	}
	if p.PartitionRefresh == 0 {
		p.PartitionRefresh = time.Minute
	}
	if p.MaxInflight == 0 {
		p.MaxInflight = 10
	}
	if p.Buffer.Mode == "" {
		p.Buffer.Mode = "memory"
	}
	if p.Buffer.PerPartitionLimit == 0 {
		p.Buffer.PerPartitionLimit = 2 << 30 // 2 GiB
	}
	if p.Buffer.SegmentBytes == 0 {
		p.Buffer.SegmentBytes = 100 << 20 // 100 MiB
	}
}
