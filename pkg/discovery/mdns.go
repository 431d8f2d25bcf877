package discovery

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// mdnsSource runs the libp2p mDNS service in rounds. Each round starts a fresh service, which
// announces us and queries the segment again, so live responders keep refreshing their record
// and silent ones age out through the sweep.
type mdnsSource struct {
	svc     *Service
	service mdns.Service
}

func (m *mdnsSource) HandlePeerFound(pi peer.AddrInfo) {
	m.svc.Found(SourceMDNS, pi)
}

func (m *mdnsSource) round() error {
	if m.service != nil {
		if err := m.service.Close(); err != nil {
			log.Debugf("closing previous mDNS round: %v", err)
		}
	}
	m.service = mdns.NewMdnsService(m.svc.host, m.svc.cfg.ServiceName, m)
	return m.service.Start()
}

func (s *Service) runMDNS(m *mdnsSource) {
	defer s.wg.Done()
	defer func() {
		if err := m.service.Close(); err != nil {
			log.Debugf("closing mDNS service: %v", err)
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := m.round(); err != nil {
				log.Warnf("mDNS round failed: %v", err)
			}
		}
	}
}
