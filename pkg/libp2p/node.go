package libp2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baderanaas/lanchat/pkg/chat"
	"github.com/baderanaas/lanchat/pkg/discovery"
	"github.com/baderanaas/lanchat/pkg/flood"
	"github.com/baderanaas/lanchat/pkg/identity"
	"github.com/baderanaas/lanchat/pkg/membership"
	"github.com/baderanaas/lanchat/pkg/metrics"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
)

var log = logging.Logger("lanchat/node")

// Node is one chat participant: a libp2p host, the discovery sources feeding its membership
// view and the flood router publishing over it. Everything except the transport and
// discovery goroutines runs on the goroutine that calls Run.
type Node struct {
	cfg Config
	id  *identity.Identity

	host      host.Host
	dht       *dht.IpfsDHT
	discovery *discovery.Service
	view      *membership.View
	router    *flood.Router
	transport *StreamTransport
	metrics   *metrics.Metrics

	out       io.Writer
	topic     string
	listening bool

	metricsSrv *http.Server
}

// NewNode builds the host and every component. Nothing talks to the network until Run.
func NewNode(cfg Config) (*Node, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := loadIdentity(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load or generate identity: %w", err)
	}

	cm, err := connmgr.NewConnManager(50, 200, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, err
	}

	var idht *dht.IpfsDHT
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.Identity(id.PrivKey),
		libp2p.ConnectionManager(cm),
	}
	if cfg.Discovery.EnableDHT {
		opts = append(opts, libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			idht, err = dht.New(context.Background(), h, dht.Mode(dht.ModeServer))
			return idht, err
		}))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		id:      id,
		host:    h,
		dht:     idht,
		view:    membership.New(h.ID()),
		metrics: cfg.Metrics,
		out:     cfg.Output,
		topic:   cfg.Topic,
	}
	n.transport = NewStreamTransport(h, ChatProtocol, cfg.SendQueue, cfg.MaxMessageSize, cfg.Metrics)
	n.router = flood.NewRouter(h.ID(), n.view, n.transport, n.deliver, flood.Config{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
		Metrics:   cfg.Metrics,
	})
	n.discovery = discovery.NewService(h, idht, cfg.Discovery)

	fmt.Fprintf(n.out, "🆔 Local peer id: %s\n", h.ID())
	return n, nil
}

func loadIdentity(path string) (*identity.Identity, error) {
	if path == "" {
		return identity.Generate()
	}
	return identity.Load(path)
}

func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns the dialable /p2p addresses of the node.
func (n *Node) Addrs() []ma.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}

// Close shuts down the node.
func (n *Node) Close() error {
	var err error
	err = multierr.Append(err, n.discovery.Close())
	err = multierr.Append(err, n.transport.Close())
	if n.metricsSrv != nil {
		err = multierr.Append(err, n.metricsSrv.Close())
	}
	if n.dht != nil {
		err = multierr.Append(err, n.dht.Close())
	}
	return multierr.Append(err, n.host.Close())
}

// deliver prints a chat line that arrived on a subscribed topic.
func (n *Node) deliver(env *flood.Envelope) {
	msg, err := chat.Unmarshal(env.Data)
	if err != nil {
		log.Warnf("undecodable chat message from %s on %q: %v", env.From, env.Topic, err)
		return
	}
	fmt.Fprintln(n.out, msg.String())
}

func (n *Node) handleRPC(in InboundRPC) {
	n.router.HandleRPC(in.From, in.RPC)
}

func (n *Node) handleDiscovery(ev discovery.Event) {
	fmt.Fprintf(n.out, "🔎 %s\n", ev)

	// The source saw the peer again after queueing this expiry.
	if ev.Kind == discovery.Expired && n.discovery.HasPeer(ev.Source, ev.Peer) {
		log.Debugf("ignoring stale expiry of %s from %s", ev.Peer, ev.Source)
		return
	}

	wasMember := n.view.Contains(ev.Peer)
	n.view.Apply(ev)
	isMember := n.view.Contains(ev.Peer)
	n.metrics.RecordDiscovery(ev.Kind.String(), string(ev.Source), n.view.Len())

	switch {
	case !wasMember && isMember:
		fmt.Fprintf(n.out, "👋 %s joined\n", ev.Peer)
		n.router.AddPeer(ev.Peer)
	case wasMember && !isMember:
		fmt.Fprintf(n.out, "👋 %s left\n", ev.Peer)
		n.router.RemovePeer(ev.Peer)
		n.transport.ClosePeer(ev.Peer)
	}
}

// idle reports the listen addresses the first time the host has any.
func (n *Node) idle() {
	if n.listening {
		return
	}
	addrs := n.host.Addrs()
	if len(addrs) == 0 {
		return
	}
	n.listening = true
	for _, addr := range addrs {
		fmt.Fprintf(n.out, "Listening on %s/p2p/%s\n", addr, n.host.ID())
	}
}

// serveMetrics exposes the Prometheus registry on MetricsAddr.
func (n *Node) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	n.metricsSrv = &http.Server{
		Addr:              n.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := n.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on %s/metrics", n.cfg.MetricsAddr)
}
