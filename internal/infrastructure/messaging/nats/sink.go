// Package nats delivers notifications over core NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/domain/notification"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// Conn is the subset of *nats.Conn used by the sink.
type Conn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	IsConnected() bool
	Close()
}

var _ Conn = (*nats.Conn)(nil)

// Connect dials cfg.URL with unlimited reconnects.
func Connect(cfg config.NATSConfig, logger logging.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.ErrCodeValidation, "nats url required")
	}
	log := logger.Named("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessageQueueError, "nats connection failed").WithDetail(cfg.URL)
	}
	return nc, nil
}

// NotificationSink publishes each notification as JSON on
// "<prefix>.user.<id>" or "<prefix>.clinic.<id>".
type NotificationSink struct {
	conn    Conn
	prefix  string
	timeout time.Duration
	logger  logging.Logger
}

var _ notification.Sink = (*NotificationSink)(nil)

func NewNotificationSink(conn Conn, cfg config.NATSConfig, logger logging.Logger) *NotificationSink {
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = config.DefaultNATSSubject
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NotificationSink{conn: conn, prefix: prefix, timeout: timeout, logger: logger.Named("nats_sink")}
}

func (s *NotificationSink) Notify(ctx context.Context, n notification.Notification) error {
	subject, err := s.Subject(n.Target)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeNotificationFailed, "notification cancelled")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal notification")
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return errors.Wrap(err, errors.ErrCodeNotificationFailed, "nats publish failed").WithDetail(subject)
	}
	// Publish only buffers; flushing surfaces a dead connection to the caller.
	if err := s.conn.FlushTimeout(s.flushTimeout(ctx)); err != nil {
		return errors.Wrap(err, errors.ErrCodeNotificationFailed, "nats flush failed").WithDetail(subject)
	}
	s.logger.Debug("notification published", logging.String("subject", subject))
	return nil
}

// Subject maps a target to its NATS subject.
func (s *NotificationSink) Subject(t notification.Target) (string, error) {
	if t.ID == "" {
		return "", errors.New(errors.ErrCodeNotificationTargetInvalid, "notification target id is empty")
	}
	switch t.Audience {
	case notification.AudienceUser, notification.AudienceClinic:
		return s.prefix + "." + string(t.Audience) + "." + subjectToken(t.ID), nil
	default:
		return "", errors.New(errors.ErrCodeNotificationTargetInvalid, "unknown notification audience").WithDetail(string(t.Audience))
	}
}

func (s *NotificationSink) flushTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < s.timeout {
			return d
		}
	}
	return s.timeout
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func subjectToken(id string) string { return tokenReplacer.Replace(id) }
