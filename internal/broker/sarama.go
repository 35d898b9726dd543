package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"github.com/IBM/sarama"

	"kbridge/internal/auth"
	"kbridge/internal/endpoint"
	"kbridge/internal/events"
)

// SaramaPool implements Pool on top of the sarama client. Telemetry
// events from its producers are dispatched through the registry.
type SaramaPool struct {
	registry *events.Registry

	mu      sync.Mutex
	clients map[string]*saramaClient
}

func NewSaramaPool(reg *events.Registry) *SaramaPool {
	return &SaramaPool{
		registry: reg,
		clients:  make(map[string]*saramaClient),
	}
}

type saramaClient struct {
	id string
	cl sarama.Client
}

func (c *saramaClient) ID() string { return c.id }

func (p *SaramaPool) EnsureClient(id string, eps []endpoint.Endpoint, cfg ClientConfig) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[id]; ok {
		return c, nil
	}

	sc, err := buildSaramaConfig(id, cfg)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(eps))
	for i, ep := range eps {
		addrs[i] = ep.Addr()
	}
	cl, err := sarama.NewClient(addrs, sc)
	if err != nil {
		return nil, err
	}
	c := &saramaClient{id: id, cl: cl}
	p.clients[id] = c
	return c, nil
}

func (p *SaramaPool) EnsureProducer(c Client, topic string, cfg ProducerConfig) (Producer, error) {
	sc, ok := c.(*saramaClient)
	if !ok {
		return nil, ErrForeignHandle
	}
	ap, err := sarama.NewAsyncProducerFromClient(sc.cl)
	if err != nil {
		return nil, err
	}
	return newSaramaProducer(sc.id, topic, ap, cfg.Plan, p.registry.Dispatch)
}

func (p *SaramaPool) Send(pr Producer, rec Record, ack AckFunc) error {
	sp, ok := pr.(*saramaProducer)
	if !ok {
		return ErrForeignHandle
	}
	return sp.send(rec, ack)
}

func (p *SaramaPool) StopProducer(pr Producer) error {
	sp, ok := pr.(*saramaProducer)
	if !ok {
		return ErrForeignHandle
	}
	return sp.stop()
}

func (p *SaramaPool) StopClient(id string) error {
	p.mu.Lock()
	c, ok := p.clients[id]
	delete(p.clients, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return c.cl.Close()
}

func (p *SaramaPool) Connected(c Client) (bool, error) {
	sc, ok := c.(*saramaClient)
	if !ok {
		return false, ErrForeignHandle
	}
	if sc.cl.Closed() {
		return false, nil
	}
	for _, b := range sc.cl.Brokers() {
		if ok, _ := b.Connected(); ok {
			return true, nil
		}
	}
	return false, nil
}

// buildSaramaConfig translates the resolved client config into a
// sarama.Config.
func buildSaramaConfig(id string, cfg ClientConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = sanitizeClientID(id)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	if cfg.ConnectTimeout > 0 {
		sc.Net.DialTimeout = cfg.ConnectTimeout
	}
	if cfg.MetadataTimeout > 0 {
		sc.Metadata.Timeout = cfg.MetadataTimeout
	}
	if cfg.MetadataRefresh > 0 {
		sc.Metadata.RefreshFrequency = cfg.MetadataRefresh
	}
	if cfg.MaxInflight > 0 {
		sc.Net.MaxOpenRequests = cfg.MaxInflight
	}
	if cfg.MaxBatchBytes > 0 {
		sc.Producer.MaxMessageBytes = cfg.MaxBatchBytes
		sc.Producer.Flush.Bytes = cfg.MaxBatchBytes
	}

	switch cfg.RequiredAcks {
	case "", "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("broker: unknown required_acks %q", cfg.RequiredAcks)
	}

	switch cfg.Compression {
	case "", "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("broker: unknown compression %q", cfg.Compression)
	}

	switch cfg.PartitionStrategy {
	case "", "random":
		sc.Producer.Partitioner = sarama.NewRandomPartitioner
	case "roundrobin", "round_robin":
		sc.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	case "key_dispatch", "hash":
		sc.Producer.Partitioner = sarama.NewHashPartitioner
	default:
		return nil, fmt.Errorf("broker: unknown partition_strategy %q", cfg.PartitionStrategy)
	}

	// The adjusted sndbuf/recbuf/buffer sizes stay descriptor-only:
	// sarama does not expose socket buffer knobs on its dialer.
	_ = cfg.SocketOpts

	switch cfg.Credentials.Mechanism {
	case auth.MechanismNone:
	case auth.MechanismPlain:
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = cfg.Credentials.Username
		sc.Net.SASL.Password = cfg.Credentials.Password.Reveal()
	case auth.MechanismKerberos:
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypeGSSAPI
		sc.Net.SASL.GSSAPI = sarama.GSSAPIConfig{
			AuthType:        sarama.KRB5_KEYTAB_AUTH,
			Username:        cfg.Credentials.Principal,
			Realm:           cfg.Credentials.Realm,
			KeyTabPath:      cfg.Credentials.KeytabFile,
			ServiceName:     cfg.Credentials.ServiceName,
			DisablePAFXFAST: true,
		}
	}

	if cfg.TLS.Enabled {
		tc, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tc
	}

	return sc, nil
}

func buildTLSConfig(opts auth.TLSOptions) (*tls.Config, error) {
	tc := &tls.Config{InsecureSkipVerify: !opts.VerifyPeer}
	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("broker: load tls keypair: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("broker: read tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("broker: no certs in %s", opts.CAFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// sanitizeClientID replaces characters Kafka rejects in client ids.
func sanitizeClientID(id string) string {
	out := []byte(id)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			out[i] = '-'
		}
	}
	return string(out)
}
