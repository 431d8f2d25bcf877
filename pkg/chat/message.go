// Package chat holds the application payload carried by the flood router.
package chat

import (
	"errors"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldFrom    protowire.Number = 1
	fieldContent protowire.Number = 2
)

var (
	ErrMalformed   = errors.New("chat: malformed message")
	ErrInvalidUTF8 = errors.New("chat: invalid utf-8 in string field")
)

// Message is one chat line and the alias of whoever typed it.
type Message struct {
	From    string
	Content string
}

// Marshal encodes the message as two length-delimited fields. Both are always written.
func (m Message) Marshal() []byte {
	b := make([]byte, 0, len(m.From)+len(m.Content)+8)
	b = protowire.AppendTag(b, fieldFrom, protowire.BytesType)
	b = protowire.AppendString(b, m.From)
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendString(b, m.Content)
	return b
}

// Unmarshal decodes a message. Field order does not matter and unknown fields are skipped.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, ErrMalformed
		}
		b = b[n:]

		switch num {
		case fieldFrom, fieldContent:
			if typ != protowire.BytesType {
				return Message{}, ErrMalformed
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, ErrMalformed
			}
			if !utf8.ValidString(s) {
				return Message{}, ErrInvalidUTF8
			}
			if num == fieldFrom {
				m.From = s
			} else {
				m.Content = s
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, ErrMalformed
			}
			b = b[n:]
		}
	}
	return m, nil
}

func (m Message) String() string {
	return m.From + ": " + m.Content
}
