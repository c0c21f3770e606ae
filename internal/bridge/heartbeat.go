package bridge

import (
	"context"
	"time"

	"game-framework/internal/metrics"

	"go.uber.org/zap"
)

func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHeartbeat()
		}
	}
}

func (s *Server) checkHeartbeat() {
	now := time.Now()
	for _, sess := range s.sessions.snapshot() {
		if now.Sub(sess.LastSeen()) > s.opts.HeartbeatTimeout {
			s.heartbeatTimeoutCount.Add(1)
			metrics.BridgeRejectedTotal.WithLabelValues("heartbeat_timeout").Inc()
			s.logger.Warn("heartbeat timeout", playerFields(sess.Player)...)
			sess.close("heartbeat_timeout")
		}
	}
}

func (s *Server) reportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			heartbeatTimeouts := s.heartbeatTimeoutCount.Swap(0)
			rateLimited := s.rateLimitedCount.Swap(0)
			malformed := s.malformedCount.Swap(0)

			if heartbeatTimeouts == 0 && rateLimited == 0 && malformed == 0 {
				continue
			}
			s.logger.Info("bridge stats",
				zap.Int("connections", s.sessions.Len()),
				zap.Uint64("heartbeat_timeout", heartbeatTimeouts),
				zap.Uint64("rate_limited", rateLimited),
				zap.Uint64("malformed", malformed),
			)
		}
	}
}
