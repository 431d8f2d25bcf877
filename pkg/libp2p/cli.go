package libp2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/baderanaas/lanchat/pkg/chat"
	"github.com/baderanaas/lanchat/pkg/flood"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
)

// Run joins the configured topic, starts discovery and drives the event loop until ctx is
// done, the input closes or the user quits. A user quit returns nil.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.router.Subscribe(n.topic)

	if err := n.discovery.Start(ctx); err != nil {
		return err
	}
	if n.dht != nil {
		go n.bootstrapDHT(ctx)
	}
	if n.cfg.DialAddr != "" {
		if err := n.connectToPeer(ctx, n.cfg.DialAddr); err != nil {
			fmt.Fprintf(n.out, "❌ Connection to %s failed: %v\n", n.cfg.DialAddr, err)
		} else {
			fmt.Fprintf(n.out, "✅ Connected to %s\n", n.cfg.DialAddr)
		}
	}
	if n.cfg.MetricsAddr != "" {
		n.serveMetrics()
	}

	input := readLines(ctx, n.cfg.Input, n.cfg.MaxMessageSize)
	loop := NewLoop(input, n.transport.Inbound(), n.discovery.Events(), n, n.cfg.RelayOnEOF)
	err := loop.Run(ctx)
	if errors.Is(err, ErrQuit) {
		return nil
	}
	return err
}

// handleInput runs a console command or publishes the line on the current topic. Commands are
// matched after trimming; published lines are sent as typed.
func (n *Node) handleInput(line string) error {
	input := strings.TrimSpace(line)
	if input == "" {
		return nil
	}

	switch {
	case input == "/quit":
		fmt.Fprintln(n.out, "🔌 Shutting down node...")
		return ErrQuit

	case input == "/peers":
		n.printPeers()

	case input == "/topics":
		topics := n.router.Topics()
		if len(topics) == 0 {
			fmt.Fprintln(n.out, "No active topics. Use /join <topic> to start.")
			break
		}
		fmt.Fprintln(n.out, "Joined topics:")
		for _, topic := range topics {
			if topic == n.topic {
				fmt.Fprintf(n.out, "  - %s (current)\n", topic)
			} else {
				fmt.Fprintf(n.out, "  - %s\n", topic)
			}
		}

	case strings.HasPrefix(input, "/join "):
		topic := strings.TrimSpace(input[6:])
		if topic == "" {
			fmt.Fprintln(n.out, "Usage: /join <topic>")
			break
		}
		n.router.Subscribe(topic)
		n.topic = topic
		fmt.Fprintf(n.out, "✅ Joined topic: %s\n", topic)

	case strings.HasPrefix(input, "/leave "):
		topic := strings.TrimSpace(input[7:])
		if !n.router.Unsubscribe(topic) {
			fmt.Fprintf(n.out, "❌ Not in topic: %s\n", topic)
			break
		}
		fmt.Fprintf(n.out, "✅ Left topic: %s\n", topic)
		if n.topic == topic {
			n.topic = ""
		}

	default:
		if n.topic == "" {
			fmt.Fprintln(n.out, "No active topic. Use /join <topic>.")
			break
		}
		msg := chat.Message{From: n.cfg.Alias, Content: line}
		data := msg.Marshal()
		if size := n.frameSize(n.topic, data); size > n.cfg.MaxMessageSize {
			fmt.Fprintf(n.out, "❌ Message too long: %d byte frame, limit is %d\n", size, n.cfg.MaxMessageSize)
			break
		}
		n.router.Publish(n.topic, data)
	}
	return nil
}

// frameSize is the encoded size of the RPC that would carry data on topic. Seqnos are fixed
// width, so any value gives the same size.
func (n *Node) frameSize(topic string, data []byte) int {
	env := flood.NewEnvelope(n.host.ID(), 0, topic, data)
	rpc := &pb.RPC{Publish: []*pb.Message{env.PB()}}
	return rpc.Size()
}

// readLines feeds lines from r into the returned channel and closes it at EOF. A line longer
// than maxLine ends the input. A nil reader yields a nil channel, which never fires.
func readLines(ctx context.Context, r io.Reader, maxLine int) <-chan string {
	if r == nil {
		return nil
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warnf("input stopped: %v", err)
		}
	}()
	return lines
}
