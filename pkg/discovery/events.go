package discovery

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Source names the mechanism that vouches for a peer.
type Source string

const (
	SourceMDNS Source = "mdns"
	SourceDHT  Source = "dht"
	// SourceLink vouches for peers we hold a live connection to, dialed or inbound.
	SourceLink Source = "link"
)

type EventKind int

const (
	Discovered EventKind = iota
	Expired
)

func (k EventKind) String() string {
	switch k {
	case Discovered:
		return "Discovered"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Event is one membership notification. Addrs carries every address the source currently
// knows for the peer and is empty for Expired.
type Event struct {
	Kind   EventKind
	Peer   peer.ID
	Addrs  []ma.Multiaddr
	Source Source
}

func (e Event) String() string {
	if e.Kind == Expired {
		return fmt.Sprintf("%s(%s via %s)", e.Kind, e.Peer, e.Source)
	}
	return fmt.Sprintf("%s(%s via %s, %d addrs)", e.Kind, e.Peer, e.Source, len(e.Addrs))
}

// MergeAddrs appends the addresses from src that are not already in dst.
// It reports whether anything was added.
func MergeAddrs(dst, src []ma.Multiaddr) ([]ma.Multiaddr, bool) {
	added := false
	for _, a := range src {
		if a == nil {
			continue
		}
		if containsAddr(dst, a) {
			continue
		}
		dst = append(dst, a)
		added = true
	}
	return dst, added
}

func containsAddr(addrs []ma.Multiaddr, a ma.Multiaddr) bool {
	for _, b := range addrs {
		if b.Equal(a) {
			return true
		}
	}
	return false
}
