package discovery

import (
	"time"

	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

// runDHT advertises us under the rendezvous namespace and periodically looks up who else did.
func (s *Service) runDHT() {
	defer s.wg.Done()

	routingDiscovery := drouting.NewRoutingDiscovery(s.dht)
	dutil.Advertise(s.ctx, routingDiscovery, s.cfg.Rendezvous)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		peerChan, err := routingDiscovery.FindPeers(s.ctx, s.cfg.Rendezvous)
		if err != nil {
			log.Debugf("DHT lookup in %s failed: %v", s.cfg.Rendezvous, err)
		} else {
			for p := range peerChan {
				if len(p.Addrs) == 0 {
					continue
				}
				s.Found(SourceDHT, p)
			}
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
