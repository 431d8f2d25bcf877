package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/baderanaas/lanchat/pkg/discovery"
	"github.com/baderanaas/lanchat/pkg/libp2p"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("lanchat/main")

func main() {
	cfg := libp2p.DefaultConfig()
	var logLevel string

	flag.IntVar(&cfg.Port, "port", 0, "Listen port (random if not specified)")
	flag.StringVar(&cfg.Topic, "topic", cfg.Topic, "Topic to join at startup")
	flag.BoolVar(&cfg.Discovery.EnableMDNS, "mdns", true, "Discover peers on the local network with mDNS")
	flag.StringVar(&cfg.Discovery.ServiceName, "mdns-service", discovery.DefaultServiceName, "mDNS service name")
	flag.DurationVar(&cfg.Discovery.Interval, "discovery-interval", discovery.DefaultInterval, "How often discovery sources announce and query")
	flag.DurationVar(&cfg.Discovery.TTL, "discovery-ttl", discovery.DefaultTTL, "How long a discovered peer stays without being seen again")
	flag.BoolVar(&cfg.Discovery.EnableDHT, "dht", false, "Also discover peers through a rendezvous on the public DHT")
	flag.StringVar(&cfg.Discovery.Rendezvous, "rendezvous", discovery.DefaultRendezvous, "DHT rendezvous namespace")
	flag.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "Recent message cache capacity")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Recent message cache retention")
	flag.IntVar(&cfg.SendQueue, "send-queue", cfg.SendQueue, "Frames queued per peer before sends are dropped")
	flag.IntVar(&cfg.MaxMessageSize, "max-message", cfg.MaxMessageSize, "Largest frame or input line in bytes")
	flag.StringVar(&cfg.IdentityPath, "identity", "", "Key file to load or create (ephemeral if empty)")
	flag.BoolVar(&cfg.RelayOnEOF, "relay-on-eof", false, "Keep relaying after stdin closes")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [alias] [peer-multiaddr]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		cfg.Alias = args[0]
		if len(args) > 1 {
			cfg.DialAddr = args[1]
		}
	}

	if err := logging.SetLogLevelRegex("lanchat/.*", logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid log level %q: %v\n", logLevel, err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		if errors.Is(err, libp2p.ErrInputClosed) {
			log.Info("input closed, exiting")
			return
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(cfg libp2p.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := libp2p.NewNode(cfg)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			log.Errorf("error closing node: %v", err)
		}
	}()

	return node.Run(ctx)
}
