package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		{From: "alice", Content: "hello"},
		{From: "", Content: ""},
		{From: "bob", Content: ""},
		{From: "", Content: "anonymous"},
		{From: "Zoë", Content: "こんにちは 👋"},
		{From: "a\nb", Content: "line with : colon"},
	}
	for _, want := range cases {
		got, err := Unmarshal(want.Marshal())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestUnmarshalFieldOrderAndUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendString(b, "hi")
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, fieldFrom, protowire.BytesType)
	b = protowire.AppendString(b, "bob")
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0xff, 0x00})

	m, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, Message{From: "bob", Content: "hi"}, m)
}

func TestUnmarshalMissingFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendString(b, "only content")

	m, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, "", m.From)
	require.Equal(t, "only content", m.Content)
}

func TestUnmarshalMalformed(t *testing.T) {
	full := Message{From: "alice", Content: "hello"}.Marshal()

	_, err := Unmarshal(full[:len(full)-2])
	require.ErrorIs(t, err, ErrMalformed)

	var wrongType []byte
	wrongType = protowire.AppendTag(wrongType, fieldFrom, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)
	_, err = Unmarshal(wrongType)
	require.ErrorIs(t, err, ErrMalformed)

	var badUTF8 []byte
	badUTF8 = protowire.AppendTag(badUTF8, fieldFrom, protowire.BytesType)
	badUTF8 = protowire.AppendBytes(badUTF8, []byte{0xc3, 0x28})
	_, err = Unmarshal(badUTF8)
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestMessageString(t *testing.T) {
	require.Equal(t, "alice: hello", Message{From: "alice", Content: "hello"}.String())
}
