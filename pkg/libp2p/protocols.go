package libp2p

import (
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

const (
	// ChatProtocol carries flood RPCs between peers. It shares the floodsub protocol ID and
	// frame format.
	ChatProtocol = pubsub.FloodSubID

	DefaultTopic = "chat"
	DefaultAlias = "anon"
)
