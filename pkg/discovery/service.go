// Package discovery finds peers on the local segment and reports them as a stream of
// Discovered/Expired events. Several sources may vouch for the same peer; each source keeps its
// own record and expires it on its own schedule.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

var log = logging.Logger("lanchat/discovery")

// ErrInit is returned by Start when a discovery source cannot be brought up.
var ErrInit = errors.New("discovery: failed to initialise")

const (
	DefaultServiceName = "lanchat"
	DefaultRendezvous  = "lanchat-global"
	DefaultInterval    = 10 * time.Second
	DefaultTTL         = 35 * time.Second
)

// Config selects the active sources and their timing.
type Config struct {
	EnableMDNS  bool
	ServiceName string
	EnableDHT   bool
	Rendezvous  string
	// Interval is the announce/query period shared by the mDNS and DHT sources and the sweep.
	Interval time.Duration
	// TTL is how long a record survives without being refreshed.
	TTL time.Duration
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.Rendezvous == "" {
		c.Rendezvous = DefaultRendezvous
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
}

type recordKey struct {
	peer   peer.ID
	source Source
}

type record struct {
	addrs     []ma.Multiaddr
	lastSeen  time.Time
	permanent bool
}

// Service owns the discovery records and the goroutines that refresh them.
type Service struct {
	host host.Host
	dht  *dht.IpfsDHT
	cfg  Config
	now  func() time.Time

	mu      sync.Mutex
	records map[recordKey]*record
	pending []Event
	started bool

	wake   chan struct{}
	events chan Event
	link   network.Notifiee

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a discovery service for h. idht may be nil when the DHT source is off.
func NewService(h host.Host, idht *dht.IpfsDHT, cfg Config) *Service {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		host:    h,
		dht:     idht,
		cfg:     cfg,
		now:     time.Now,
		records: make(map[recordKey]*record),
		wake:    make(chan struct{}, 1),
		events:  make(chan Event),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.link = s.linkNotifiee()

	s.wg.Add(1)
	go s.pump()
	return s
}

// Start brings up every configured source. It is not restartable.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: already started", ErrInit)
	}
	s.started = true
	s.mu.Unlock()

	if s.cfg.EnableDHT && s.dht == nil {
		return fmt.Errorf("%w: dht source enabled without a DHT", ErrInit)
	}
	context.AfterFunc(ctx, s.cancel)

	if s.cfg.EnableMDNS {
		m := &mdnsSource{svc: s}
		if err := m.round(); err != nil {
			return fmt.Errorf("%w: failed to start mDNS: %v", ErrInit, err)
		}
		s.wg.Add(1)
		go s.runMDNS(m)
	}

	if s.cfg.EnableDHT {
		s.wg.Add(1)
		go s.runDHT()
	}

	s.host.Network().Notify(s.link)
	for _, c := range s.host.Network().Conns() {
		s.Found(SourceLink, peer.AddrInfo{ID: c.RemotePeer(), Addrs: []ma.Multiaddr{c.RemoteMultiaddr()}})
	}

	s.wg.Add(1)
	go s.runSweeper()

	log.Infof("discovery started (mdns=%t dht=%t interval=%s ttl=%s)",
		s.cfg.EnableMDNS, s.cfg.EnableDHT, s.cfg.Interval, s.cfg.TTL)
	return nil
}

// Events returns the event stream. It is closed after Close.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Found records that src saw pi. A new record, or new addresses on an existing one, produce a
// Discovered event; a plain refresh only bumps the last-seen time.
func (s *Service) Found(src Source, pi peer.AddrInfo) {
	if pi.ID == "" || pi.ID == s.host.ID() {
		return
	}
	permanent := src == SourceLink
	if !permanent && len(pi.Addrs) > 0 {
		s.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, s.cfg.TTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{peer: pi.ID, source: src}
	rec, known := s.records[key]
	if !known {
		rec = &record{permanent: permanent}
		s.records[key] = rec
	}
	rec.lastSeen = s.now()

	var added bool
	rec.addrs, added = MergeAddrs(rec.addrs, pi.Addrs)
	if known && !added {
		return
	}
	addrs := make([]ma.Multiaddr, len(rec.addrs))
	copy(addrs, rec.addrs)
	s.enqueueLocked(Event{Kind: Discovered, Peer: pi.ID, Addrs: addrs, Source: src})
}

// Lost drops src's record for id straight away.
func (s *Service) Lost(src Source, id peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{peer: id, source: src}
	if _, ok := s.records[key]; !ok {
		return
	}
	delete(s.records, key)
	s.enqueueLocked(Event{Kind: Expired, Peer: id, Source: src})
}

// HasPeer reports whether src still holds a live record for id.
func (s *Service) HasPeer(src Source, id peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{peer: id, source: src}]
	if !ok {
		return false
	}
	return rec.permanent || s.now().Sub(rec.lastSeen) <= s.cfg.TTL
}

// sweep expires every non-permanent record not refreshed within the TTL.
func (s *Service) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.records {
		if rec.permanent || now.Sub(rec.lastSeen) <= s.cfg.TTL {
			continue
		}
		delete(s.records, key)
		s.enqueueLocked(Event{Kind: Expired, Peer: key.peer, Source: key.source})
	}
}

func (s *Service) runSweeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep(s.now())
		}
	}
}

// enqueueLocked queues ev for the pump. Producers never block on a slow consumer.
func (s *Service) enqueueLocked(ev Event) {
	s.pending = append(s.pending, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump hands queued events to the consumer in the order they were produced.
func (s *Service) pump() {
	defer s.wg.Done()
	defer close(s.events)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) linkNotifiee() network.Notifiee {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			s.Found(SourceLink, peer.AddrInfo{ID: c.RemotePeer(), Addrs: []ma.Multiaddr{c.RemoteMultiaddr()}})
		},
		DisconnectedF: func(n network.Network, c network.Conn) {
			// Another connection to the same peer keeps the link alive.
			if n.Connectedness(c.RemotePeer()) == network.Connected {
				return
			}
			s.Lost(SourceLink, c.RemotePeer())
		},
	}
}

// Close stops all sources. The event channel is closed once the pump exits.
func (s *Service) Close() error {
	s.cancel()
	s.host.Network().StopNotify(s.link)
	s.wg.Wait()
	return nil
}
