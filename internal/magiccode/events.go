package magiccode

import (
	"context"
	"time"

	"go.uber.org/zap"

	"condoflow.io/internal/ids"
)

// emitStrict persists a security event and mirrors it to the log stream.
// Returns the storage error so security-relevant rejections are never
// returned to the caller before the event is durable.
func (s *Service) emitStrict(ctx context.Context, typ EventType, sev Severity, ip, userAgent string, details map[string]string, now time.Time) error {
	ev := &SecurityEvent{
		ID:         ids.New(),
		Type:       typ,
		Severity:   sev,
		IP:         ip,
		UserAgent:  userAgent,
		Details:    details,
		OccurredAt: now,
	}
	if err := s.store.Events(ctx).Append(ctx, ev); err != nil {
		return err
	}
	s.logEvent(ev)
	return nil
}

// emit persists a non-blocking signal event. Failures are logged, not
// surfaced: these events accompany a success path.
func (s *Service) emit(ctx context.Context, typ EventType, sev Severity, ip, userAgent string, details map[string]string, now time.Time) {
	ev := &SecurityEvent{
		ID:         ids.New(),
		Type:       typ,
		Severity:   sev,
		IP:         ip,
		UserAgent:  userAgent,
		Details:    details,
		OccurredAt: now,
	}
	if err := s.store.Events(ctx).Append(ctx, ev); err != nil {
		s.log.Error("security event append failed",
			zap.String("event", string(typ)), zap.Error(err))
		return
	}
	s.logEvent(ev)
}

func (s *Service) logEvent(ev *SecurityEvent) {
	fields := []zap.Field{
		zap.String("event", string(ev.Type)),
		zap.String("severity", string(ev.Severity)),
		zap.String("ip", ev.IP),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}
	switch ev.Severity {
	case SeverityHigh, SeverityCritical:
		s.log.Warn("security event", fields...)
	default:
		s.log.Info("security event", fields...)
	}
}
