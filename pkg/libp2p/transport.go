package libp2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/baderanaas/lanchat/pkg/metrics"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
	"github.com/sony/gobreaker"
)

var (
	ErrQueueFull       = errors.New("send queue full")
	ErrTransportClosed = errors.New("transport closed")
	ErrMessageTooLarge = errors.New("message too large")
)

const (
	streamOpenTimeout  = 10 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// InboundRPC is one decoded frame and the peer that sent it.
type InboundRPC struct {
	From peer.ID
	RPC  *pb.RPC
}

// StreamTransport moves RPCs over one long-lived outbound stream per peer. Sends are queued and
// written by a goroutine per peer so callers never wait on dials.
type StreamTransport struct {
	host       host.Host
	proto      protocol.ID
	queueSize  int
	maxMsgSize int
	metrics    *metrics.Metrics

	inbound chan InboundRPC

	mu      sync.Mutex
	writers map[peer.ID]*peerWriter
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type peerWriter struct {
	id      peer.ID
	queue   chan []byte
	breaker *gobreaker.CircuitBreaker
	stream  network.Stream
	writer  msgio.WriteCloser
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewStreamTransport registers the stream handler for proto on h.
func NewStreamTransport(h host.Host, proto protocol.ID, queueSize, maxMsgSize int, m *metrics.Metrics) *StreamTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &StreamTransport{
		host:       h,
		proto:      proto,
		queueSize:  queueSize,
		maxMsgSize: maxMsgSize,
		metrics:    m,
		inbound:    make(chan InboundRPC, 64),
		writers:    make(map[peer.ID]*peerWriter),
		ctx:        ctx,
		cancel:     cancel,
	}
	h.SetStreamHandler(proto, t.handleStream)
	return t
}

// Inbound delivers RPCs read from every peer.
func (t *StreamTransport) Inbound() <-chan InboundRPC {
	return t.inbound
}

// Send queues rpc for to. It fails fast when the peer's queue is full.
func (t *StreamTransport) Send(to peer.ID, rpc *pb.RPC) error {
	data, err := rpc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal rpc: %w", err)
	}
	if len(data) > t.maxMsgSize {
		t.metrics.RecordSendFailure("too_large")
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	w, err := t.writerFor(to)
	if err != nil {
		return err
	}
	select {
	case w.queue <- data:
		return nil
	default:
		t.metrics.RecordSendFailure("queue_full")
		return ErrQueueFull
	}
}

func (t *StreamTransport) writerFor(id peer.ID) (*peerWriter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if w, ok := t.writers[id]; ok {
		return w, nil
	}

	ctx, cancel := context.WithCancel(t.ctx)
	w := &peerWriter{
		id:    id,
		queue: make(chan []byte, t.queueSize),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        id.String(),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		ctx:    ctx,
		cancel: cancel,
	}
	t.writers[id] = w
	t.wg.Add(1)
	go t.runWriter(w)
	return w, nil
}

func (t *StreamTransport) runWriter(w *peerWriter) {
	defer t.wg.Done()
	defer w.closeStream()
	for {
		select {
		case <-w.ctx.Done():
			return
		case data := <-w.queue:
			if err := t.write(w, data); err != nil {
				t.metrics.RecordSendFailure("stream")
				log.Debugf("dropping frame for %s: %v", w.id, err)
			}
		}
	}
}

func (t *StreamTransport) write(w *peerWriter, data []byte) error {
	if w.stream == nil {
		s, err := w.breaker.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(w.ctx, streamOpenTimeout)
			defer cancel()
			return t.host.NewStream(ctx, w.id, t.proto)
		})
		if err != nil {
			return fmt.Errorf("failed to open stream: %w", err)
		}
		w.stream = s.(network.Stream)
		w.writer = msgio.NewVarintWriter(w.stream)
	}
	_ = w.stream.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := w.writer.WriteMsg(data); err != nil {
		_ = w.stream.Reset()
		w.stream, w.writer = nil, nil
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func (w *peerWriter) closeStream() {
	if w.stream == nil {
		return
	}
	if err := w.stream.Close(); err != nil {
		log.Debugf("closing stream to %s: %v", w.id, err)
	}
	w.stream, w.writer = nil, nil
}

// ClosePeer stops the writer for id and drops anything still queued.
func (t *StreamTransport) ClosePeer(id peer.ID) {
	t.mu.Lock()
	w, ok := t.writers[id]
	delete(t.writers, id)
	t.mu.Unlock()
	if ok {
		w.cancel()
	}
}

// handleStream reads frames until the remote closes the stream.
func (t *StreamTransport) handleStream(s network.Stream) {
	from := s.Conn().RemotePeer()
	r := msgio.NewVarintReaderSize(s, t.maxMsgSize)
	for {
		msg, err := r.ReadMsg()
		if err != nil {
			if err == io.EOF {
				_ = s.Close()
			} else {
				log.Debugf("reading from %s: %v", from, err)
				_ = s.Reset()
			}
			return
		}

		rpc := new(pb.RPC)
		err = rpc.Unmarshal(msg)
		r.ReleaseMsg(msg)
		if err != nil {
			t.metrics.MalformedFrames.Inc()
			log.Warnf("discarding malformed frame from %s: %v", from, err)
			continue
		}

		select {
		case t.inbound <- InboundRPC{From: from, RPC: rpc}:
		case <-t.ctx.Done():
			_ = s.Reset()
			return
		}
	}
}

// Close stops every writer and unregisters the stream handler.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for id, w := range t.writers {
		w.cancel()
		delete(t.writers, id)
	}
	t.mu.Unlock()

	t.host.RemoveStreamHandler(t.proto)
	t.cancel()
	t.wg.Wait()
	return nil
}
