package flood

import (
	"encoding/binary"
	"errors"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"
)

var ErrBadEnvelope = errors.New("flood: bad envelope")

// Envelope is the unit the router floods: who published it, their sequence number, the topic
// and the opaque payload. From and Seqno together form the dedup key.
type Envelope struct {
	From  peer.ID
	Seqno uint64
	Topic string
	Data  []byte

	msg *pb.Message
	key string
}

// NewEnvelope builds an envelope and its wire message.
func NewEnvelope(from peer.ID, seqno uint64, topic string, data []byte) *Envelope {
	env := &Envelope{From: from, Seqno: seqno, Topic: topic, Data: data}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, seqno)
	env.msg = &pb.Message{
		From:  []byte(from),
		Data:  data,
		Seqno: seq,
		Topic: &env.Topic,
	}
	env.key = pubsub.DefaultMsgIdFn(env.msg)
	return env
}

// FromPB validates a wire message. The message is kept as is so forwarding relays exactly what
// arrived.
func FromPB(m *pb.Message) (*Envelope, error) {
	from, err := peer.IDFromBytes(m.GetFrom())
	if err != nil {
		return nil, fmt.Errorf("%w: origin: %v", ErrBadEnvelope, err)
	}
	seq := m.GetSeqno()
	if len(seq) != 8 {
		return nil, fmt.Errorf("%w: seqno is %d bytes", ErrBadEnvelope, len(seq))
	}
	return &Envelope{
		From:  from,
		Seqno: binary.BigEndian.Uint64(seq),
		Topic: m.GetTopic(),
		Data:  m.GetData(),
		msg:   m,
		key:   pubsub.DefaultMsgIdFn(m),
	}, nil
}

// Key is the dedup key.
func (e *Envelope) Key() string {
	return e.key
}

// PB returns the wire message.
func (e *Envelope) PB() *pb.Message {
	return e.msg
}
