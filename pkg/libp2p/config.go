package libp2p

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/baderanaas/lanchat/pkg/discovery"
	"github.com/baderanaas/lanchat/pkg/flood"
	"github.com/baderanaas/lanchat/pkg/metrics"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultSendQueue      = 64
	DefaultMaxMessageSize = 1 << 20
)

// Config holds everything a Node needs. Zero values fall back to DefaultConfig.
type Config struct {
	Alias string
	// DialAddr is an optional /p2p multiaddr connected to at startup.
	DialAddr string
	Port     int
	// ListenAddrs overrides the addresses derived from Port.
	ListenAddrs  []string
	Topic        string
	IdentityPath string

	Discovery discovery.Config

	CacheSize      int
	CacheTTL       time.Duration
	SendQueue      int
	MaxMessageSize int

	// RelayOnEOF keeps relaying after the input closes instead of stopping the node.
	RelayOnEOF  bool
	MetricsAddr string
	Metrics     *metrics.Metrics

	Input  io.Reader
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{
		Alias: DefaultAlias,
		Topic: DefaultTopic,
		Discovery: discovery.Config{
			EnableMDNS:  true,
			ServiceName: discovery.DefaultServiceName,
			Rendezvous:  discovery.DefaultRendezvous,
			Interval:    discovery.DefaultInterval,
			TTL:         discovery.DefaultTTL,
		},
		CacheSize:      flood.DefaultCacheSize,
		CacheTTL:       flood.DefaultCacheTTL,
		SendQueue:      DefaultSendQueue,
		MaxMessageSize: DefaultMaxMessageSize,
		Input:          os.Stdin,
		Output:         os.Stdout,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.Alias == "" {
		c.Alias = def.Alias
	}
	if c.Topic == "" {
		c.Topic = def.Topic
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.SendQueue <= 0 {
		c.SendQueue = def.SendQueue
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.Output == nil {
		c.Output = io.Discard
	}
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultMetrics
	}
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []string{
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", c.Port),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", c.Port),
		}
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	for _, s := range c.ListenAddrs {
		if _, err := ma.NewMultiaddr(s); err != nil {
			return fmt.Errorf("%w: listen address %q: %v", ErrInvalidConfig, s, err)
		}
	}
	if c.DialAddr != "" {
		if _, err := parseDialAddr(c.DialAddr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Discovery.TTL > 0 && c.Discovery.Interval > 0 && c.Discovery.TTL < c.Discovery.Interval {
		return fmt.Errorf("%w: discovery ttl %s shorter than interval %s",
			ErrInvalidConfig, c.Discovery.TTL, c.Discovery.Interval)
	}
	return nil
}

// parseDialAddr turns a multiaddr ending in /p2p/<id> into AddrInfo.
func parseDialAddr(s string) (*peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid multiaddress: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("dial address needs a /p2p/<peer-id> component: %w", err)
	}
	return info, nil
}
