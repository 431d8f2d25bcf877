package libp2p

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baderanaas/lanchat/pkg/identity"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// connectToPeer connects to a peer given its multiaddress string.
func (n *Node) connectToPeer(ctx context.Context, addrStr string) error {
	peerInfo, err := parseDialAddr(addrStr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return n.host.Connect(ctx, *peerInfo)
}

func bootstrapPeers() []peer.AddrInfo {
	var peers []peer.AddrInfo
	for _, addr := range dht.DefaultBootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Warnf("failed to parse bootstrap peer: %v", err)
			continue
		}
		peers = append(peers, *pi)
	}
	return peers
}

// bootstrapDHT joins the public DHT. One bootstrap connection is enough to start.
func (n *Node) bootstrapDHT(ctx context.Context) {
	log.Info("starting DHT bootstrap")

	connected := false
	for _, pi := range bootstrapPeers() {
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := n.host.Connect(cctx, pi)
		cancel()
		if err == nil {
			connected = true
			log.Infof("connected to bootstrap peer %s", pi.ID)
			break
		}
		if ctx.Err() != nil {
			return
		}
	}
	if !connected {
		log.Warn("no bootstrap peer reachable, relying on local discovery")
	}

	if err := n.dht.Bootstrap(ctx); err != nil {
		log.Warnf("DHT bootstrap warning: %v", err)
	}
}

// printPeers lists the membership view with the sources vouching for each peer.
func (n *Node) printPeers() {
	members := n.view.Peers()
	connected := len(n.host.Network().Peers())
	fmt.Fprintf(n.out, "📊 Network Status: %d members, %d connected\n", len(members), connected)

	for _, id := range members {
		status := "disconnected"
		if n.host.Network().Connectedness(id) == network.Connected {
			status = "connected"
		}
		sources := make([]string, 0, 3)
		for _, src := range n.view.Sources(id) {
			sources = append(sources, string(src))
		}
		topics := strings.Join(n.router.PeerTopics(id), ", ")
		if topics == "" {
			topics = "none"
		}
		fmt.Fprintf(n.out, "  - %s (%s) - via: %s, topics: %s\n",
			identity.Shorten(id), status, strings.Join(sources, ", "), topics)
	}
}
