// Package membership keeps the set of peers the router floods to.
package membership

import (
	"sort"
	"time"

	"github.com/baderanaas/lanchat/pkg/discovery"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Peer is one live member. Sources holds the last time each discovery source vouched for it.
type Peer struct {
	ID       peer.ID
	Addrs    []ma.Multiaddr
	Sources  map[discovery.Source]time.Time
	LastSeen time.Time
}

func (p *Peer) clone() Peer {
	c := Peer{
		ID:       p.ID,
		Addrs:    make([]ma.Multiaddr, len(p.Addrs)),
		Sources:  make(map[discovery.Source]time.Time, len(p.Sources)),
		LastSeen: p.LastSeen,
	}
	copy(c.Addrs, p.Addrs)
	for s, t := range p.Sources {
		c.Sources[s] = t
	}
	return c
}

// View maps peer IDs to their discovery records. A peer is present exactly while at least one
// source vouches for it.
//
// View is not safe for concurrent use; it is owned by the event loop.
type View struct {
	self  peer.ID
	peers map[peer.ID]*Peer
	now   func() time.Time
}

func New(self peer.ID) *View {
	return &View{
		self:  self,
		peers: make(map[peer.ID]*Peer),
		now:   time.Now,
	}
}

// Apply routes a discovery event and reports whether membership changed.
func (v *View) Apply(ev discovery.Event) bool {
	switch ev.Kind {
	case discovery.Discovered:
		return v.OnDiscovered(ev.Peer, ev.Addrs, ev.Source)
	case discovery.Expired:
		return v.OnExpired(ev.Peer, ev.Source)
	}
	return false
}

// OnDiscovered inserts id or merges addrs into its entry. It returns true if id was not a member.
func (v *View) OnDiscovered(id peer.ID, addrs []ma.Multiaddr, src discovery.Source) bool {
	if id == "" || id == v.self {
		return false
	}
	now := v.now()
	p, ok := v.peers[id]
	if !ok {
		p = &Peer{ID: id, Sources: make(map[discovery.Source]time.Time)}
		v.peers[id] = p
	}
	p.Addrs, _ = discovery.MergeAddrs(p.Addrs, addrs)
	p.Sources[src] = now
	p.LastSeen = now
	return !ok
}

// OnExpired withdraws src's vouch for id. The peer is removed only when no source is left;
// the return value reports that removal.
func (v *View) OnExpired(id peer.ID, src discovery.Source) bool {
	p, ok := v.peers[id]
	if !ok {
		return false
	}
	delete(p.Sources, src)
	if len(p.Sources) > 0 {
		return false
	}
	delete(v.peers, id)
	return true
}

// Peers returns the current members sorted by ID. Callers must tolerate members that have
// gone away by the time they act on the snapshot.
func (v *View) Peers() []peer.ID {
	ids := make([]peer.ID, 0, len(v.peers))
	for id := range v.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (v *View) Contains(id peer.ID) bool {
	_, ok := v.peers[id]
	return ok
}

// Get returns a copy of the entry for id.
func (v *View) Get(id peer.ID) (Peer, bool) {
	p, ok := v.peers[id]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

// Sources lists the sources currently vouching for id, sorted.
func (v *View) Sources(id peer.ID) []discovery.Source {
	p, ok := v.peers[id]
	if !ok {
		return nil
	}
	srcs := make([]discovery.Source, 0, len(p.Sources))
	for s := range p.Sources {
		srcs = append(srcs, s)
	}
	sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
	return srcs
}

func (v *View) Len() int {
	return len(v.peers)
}
