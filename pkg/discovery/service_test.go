package discovery

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) host.Host {
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func newTestService(t *testing.T, h host.Host, cfg Config) *Service {
	s := NewService(h, nil, cfg)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func randomPeer(t *testing.T) peer.ID {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return id
}

func addr(t *testing.T, s string) ma.Multiaddr {
	a, err := ma.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func nextEvent(t *testing.T, s *Service) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for discovery event")
		return Event{}
	}
}

func requireNoEvent(t *testing.T, s *Service) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %s", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFoundEmitsDiscoveredAndMergesAddrs(t *testing.T) {
	s := newTestService(t, newTestHost(t), Config{})
	p := randomPeer(t)
	a1 := addr(t, "/ip4/192.168.1.10/tcp/4001")
	a2 := addr(t, "/ip4/192.168.1.10/udp/4001/quic-v1")

	s.Found(SourceMDNS, peer.AddrInfo{ID: p, Addrs: []ma.Multiaddr{a1}})
	ev := nextEvent(t, s)
	require.Equal(t, Discovered, ev.Kind)
	require.Equal(t, p, ev.Peer)
	require.Equal(t, SourceMDNS, ev.Source)
	require.Len(t, ev.Addrs, 1)

	// A refresh with nothing new stays quiet.
	s.Found(SourceMDNS, peer.AddrInfo{ID: p, Addrs: []ma.Multiaddr{a1}})
	requireNoEvent(t, s)

	s.Found(SourceMDNS, peer.AddrInfo{ID: p, Addrs: []ma.Multiaddr{a1, a2}})
	ev = nextEvent(t, s)
	require.Equal(t, Discovered, ev.Kind)
	require.Len(t, ev.Addrs, 2)
	require.True(t, s.HasPeer(SourceMDNS, p))
	require.False(t, s.HasPeer(SourceDHT, p))
}

func TestFoundIgnoresSelf(t *testing.T) {
	h := newTestHost(t)
	s := newTestService(t, h, Config{})

	s.Found(SourceMDNS, peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()})
	requireNoEvent(t, s)
}

func TestSweepExpiresStaleRecords(t *testing.T) {
	s := newTestService(t, newTestHost(t), Config{TTL: 30 * time.Second})
	base := time.Now()
	s.now = func() time.Time { return base }

	stale := randomPeer(t)
	fresh := randomPeer(t)
	s.Found(SourceMDNS, peer.AddrInfo{ID: stale, Addrs: []ma.Multiaddr{addr(t, "/ip4/10.0.0.1/tcp/1")}})
	nextEvent(t, s)

	s.now = func() time.Time { return base.Add(20 * time.Second) }
	s.Found(SourceMDNS, peer.AddrInfo{ID: fresh, Addrs: []ma.Multiaddr{addr(t, "/ip4/10.0.0.2/tcp/1")}})
	nextEvent(t, s)

	s.sweep(base.Add(40 * time.Second))
	ev := nextEvent(t, s)
	require.Equal(t, Expired, ev.Kind)
	require.Equal(t, stale, ev.Peer)
	require.Equal(t, SourceMDNS, ev.Source)
	requireNoEvent(t, s)

	s.now = func() time.Time { return base.Add(40 * time.Second) }
	require.False(t, s.HasPeer(SourceMDNS, stale))
	require.True(t, s.HasPeer(SourceMDNS, fresh))
}

func TestLinkRecordsOnlyExpireOnLost(t *testing.T) {
	s := newTestService(t, newTestHost(t), Config{TTL: time.Second})
	p := randomPeer(t)

	s.Found(SourceLink, peer.AddrInfo{ID: p, Addrs: []ma.Multiaddr{addr(t, "/ip4/10.0.0.3/tcp/1")}})
	require.Equal(t, Discovered, nextEvent(t, s).Kind)

	s.sweep(time.Now().Add(time.Hour))
	requireNoEvent(t, s)

	s.Lost(SourceLink, p)
	ev := nextEvent(t, s)
	require.Equal(t, Expired, ev.Kind)
	require.Equal(t, SourceLink, ev.Source)

	s.Lost(SourceLink, p)
	requireNoEvent(t, s)
}

func TestStartFailsWithoutDHT(t *testing.T) {
	s := newTestService(t, newTestHost(t), Config{EnableDHT: true})
	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrInit)
}

func TestLinkSourceFollowsConnections(t *testing.T) {
	a := newTestHost(t)
	b, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	s := newTestService(t, a, Config{})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, b.Connect(context.Background(), peer.AddrInfo{ID: a.ID(), Addrs: a.Addrs()}))
	ev := nextEvent(t, s)
	require.Equal(t, Discovered, ev.Kind)
	require.Equal(t, b.ID(), ev.Peer)
	require.Equal(t, SourceLink, ev.Source)

	require.NoError(t, b.Close())
	ev = nextEvent(t, s)
	require.Equal(t, Expired, ev.Kind)
	require.Equal(t, b.ID(), ev.Peer)
}

func TestMergeAddrs(t *testing.T) {
	a1 := addr(t, "/ip4/1.2.3.4/tcp/1")
	a2 := addr(t, "/ip4/1.2.3.4/tcp/2")

	merged, added := MergeAddrs(nil, []ma.Multiaddr{a1, a1})
	require.True(t, added)
	require.Len(t, merged, 1)

	merged, added = MergeAddrs(merged, []ma.Multiaddr{a1})
	require.False(t, added)

	merged, added = MergeAddrs(merged, []ma.Multiaddr{a2})
	require.True(t, added)
	require.Len(t, merged, 2)
}

func TestMDNSDiscoversAndKeepsPeer(t *testing.T) {
	if testing.Short() {
		t.Skip("mDNS round trip takes several seconds")
	}
	id := randomPeer(t).String()
	cfg := Config{
		EnableMDNS:  true,
		ServiceName: "lanchat-test-" + id[len(id)-8:],
		Interval:    time.Second,
		TTL:         3 * time.Second,
	}

	ha, hb := newTestHost(t), newTestHost(t)
	sa, sb := newTestService(t, ha, cfg), newTestService(t, hb, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sa.Start(ctx))
	require.NoError(t, sb.Start(ctx))

	// Several rounds and more than one TTL pass while both stay up.
	deadline := time.After(10 * time.Second)
	discovered := 0
watch:
	for {
		select {
		case ev, ok := <-sa.Events():
			require.True(t, ok)
			if ev.Peer != hb.ID() {
				continue
			}
			require.NotEqual(t, Expired, ev.Kind, "peer expired while still announcing: %s", ev)
			require.Equal(t, SourceMDNS, ev.Source)
			discovered++
		case <-deadline:
			break watch
		}
	}

	require.GreaterOrEqual(t, discovered, 1)
	require.True(t, sa.HasPeer(SourceMDNS, hb.ID()))
}
