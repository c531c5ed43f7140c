package ws

import (
	"time"

	"github.com/haraj-adan/chatsync/internal/protocol"
)

// heartbeat sends an application-level ping every interval and drops the
// connection when nothing was read for interval + timeout. Dropping makes
// the read loop fail, which hands control back to the reconnect loop.
func (s *Session) heartbeat(c *connection) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := protocol.EncodeFrame(protocol.TypePing, nil, 0)
	deadline := s.cfg.PingInterval + s.cfg.PongTimeout

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if idle := c.idle(); idle > deadline {
				s.log.Warn().Dur("idle", idle.Round(time.Millisecond)).Msg("heartbeat timeout")
				c.close()
				return
			}
			if err := c.write(ping); err != nil {
				s.log.Warn().Err(err).Msg("heartbeat ping failed")
				c.close()
				return
			}
		}
	}
}
