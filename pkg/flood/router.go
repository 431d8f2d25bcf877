// Package flood implements topic-scoped flood propagation with duplicate suppression.
//
// A Router is driven from a single goroutine: every method mutates router state without
// locking and must be called from the owner's event loop.
package flood

import (
	"sort"
	"time"

	"github.com/baderanaas/lanchat/pkg/metrics"
	logging "github.com/ipfs/go-log/v2"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"
)

var log = logging.Logger("lanchat/flood")

// Transport hands an RPC to a peer. Send must not block on the network.
type Transport interface {
	Send(to peer.ID, rpc *pb.RPC) error
}

// PeerSet is the forwarding set, usually the membership view.
type PeerSet interface {
	Peers() []peer.ID
}

// DeliverFunc receives new envelopes on subscribed topics.
type DeliverFunc func(env *Envelope)

type Config struct {
	CacheSize int
	CacheTTL  time.Duration
	Metrics   *metrics.Metrics
}

type Router struct {
	self      peer.ID
	peers     PeerSet
	transport Transport
	deliver   DeliverFunc
	metrics   *metrics.Metrics

	subs   map[string]struct{}
	remote map[peer.ID]map[string]struct{}
	cache  *RecentCache
	seqno  uint64
}

func NewRouter(self peer.ID, peers PeerSet, transport Transport, deliver DeliverFunc, cfg Config) *Router {
	if deliver == nil {
		deliver = func(*Envelope) {}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Router{
		self:      self,
		peers:     peers,
		transport: transport,
		deliver:   deliver,
		metrics:   m,
		subs:      make(map[string]struct{}),
		remote:    make(map[peer.ID]map[string]struct{}),
		cache:     NewRecentCache(cfg.CacheSize, cfg.CacheTTL),
		// Seeding from the clock keeps keys unique across restarts with a persisted identity.
		seqno: uint64(time.Now().UnixNano()),
	}
}

// Subscribe registers interest in topic and tells current peers. It reports whether the
// subscription is new.
func (r *Router) Subscribe(topic string) bool {
	if _, ok := r.subs[topic]; ok {
		return false
	}
	r.subs[topic] = struct{}{}
	r.announce(topic, true)
	return true
}

// Unsubscribe drops interest in topic. Envelopes on it are still forwarded.
func (r *Router) Unsubscribe(topic string) bool {
	if _, ok := r.subs[topic]; !ok {
		return false
	}
	delete(r.subs, topic)
	r.announce(topic, false)
	return true
}

func (r *Router) Subscribed(topic string) bool {
	_, ok := r.subs[topic]
	return ok
}

// Topics lists local subscriptions, sorted.
func (r *Router) Topics() []string {
	return sortedKeys(r.subs)
}

// PeerTopics lists what a peer told us it subscribes to.
func (r *Router) PeerTopics(id peer.ID) []string {
	return sortedKeys(r.remote[id])
}

// AddPeer greets a new member with our subscriptions.
func (r *Router) AddPeer(id peer.ID) {
	if len(r.subs) == 0 {
		return
	}
	rpc := &pb.RPC{}
	for _, topic := range r.Topics() {
		rpc.Subscriptions = append(rpc.Subscriptions, subOpts(topic, true))
	}
	r.send(id, rpc)
}

// RemovePeer forgets what we knew about a departed member.
func (r *Router) RemovePeer(id peer.ID) {
	delete(r.remote, id)
}

// Publish wraps data in a fresh envelope, records it as seen and makes one delivery attempt
// to every current member. Per-peer failures are logged and never abort the publish.
func (r *Router) Publish(topic string, data []byte) *Envelope {
	r.seqno++
	env := NewEnvelope(r.self, r.seqno, topic, data)
	r.cache.Add(env.Key())
	r.metrics.Published.Inc()
	r.metrics.CacheSize.Set(float64(r.cache.Len()))

	rpc := &pb.RPC{Publish: []*pb.Message{env.PB()}}
	for _, p := range r.peers.Peers() {
		if p == r.self {
			continue
		}
		r.send(p, rpc)
	}
	return env
}

// HandleRPC processes one RPC received from a peer.
func (r *Router) HandleRPC(from peer.ID, rpc *pb.RPC) {
	for _, sub := range rpc.GetSubscriptions() {
		r.recordSubscription(from, sub)
	}
	for _, msg := range rpc.GetPublish() {
		env, err := FromPB(msg)
		if err != nil {
			log.Debugf("dropping message from %s: %v", from, err)
			continue
		}
		r.OnInbound(from, env)
	}
}

// OnInbound admits env if its key has not been seen. A new envelope is delivered when the
// topic is subscribed and forwarded to every member except the one it came from and its
// origin. It reports whether env was new.
func (r *Router) OnInbound(from peer.ID, env *Envelope) bool {
	if env.From == r.self {
		return false
	}
	if !r.cache.Add(env.Key()) {
		r.metrics.Duplicates.Inc()
		return false
	}
	r.metrics.CacheSize.Set(float64(r.cache.Len()))

	if r.Subscribed(env.Topic) {
		r.metrics.Delivered.Inc()
		r.deliver(env)
	}

	rpc := &pb.RPC{Publish: []*pb.Message{env.PB()}}
	for _, p := range r.peers.Peers() {
		if p == from || p == env.From || p == r.self {
			continue
		}
		r.metrics.Forwarded.Inc()
		r.send(p, rpc)
	}
	return true
}

// Seen reports whether the cache holds key.
func (r *Router) Seen(key string) bool {
	return r.cache.Seen(key)
}

// CacheLen is the number of keys in the recent-message cache.
func (r *Router) CacheLen() int {
	return r.cache.Len()
}

func (r *Router) announce(topic string, subscribe bool) {
	rpc := &pb.RPC{Subscriptions: []*pb.RPC_SubOpts{subOpts(topic, subscribe)}}
	for _, p := range r.peers.Peers() {
		r.send(p, rpc)
	}
}

func (r *Router) recordSubscription(from peer.ID, sub *pb.RPC_SubOpts) {
	topic := sub.GetTopicid()
	topics := r.remote[from]
	if sub.GetSubscribe() {
		if topics == nil {
			topics = make(map[string]struct{})
			r.remote[from] = topics
		}
		topics[topic] = struct{}{}
		return
	}
	delete(topics, topic)
}

func (r *Router) send(to peer.ID, rpc *pb.RPC) {
	if err := r.transport.Send(to, rpc); err != nil {
		log.Debugf("send to %s failed: %v", to, err)
	}
}

func subOpts(topic string, subscribe bool) *pb.RPC_SubOpts {
	return &pb.RPC_SubOpts{Subscribe: &subscribe, Topicid: &topic}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
