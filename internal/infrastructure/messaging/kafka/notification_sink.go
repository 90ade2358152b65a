package kafka

import (
	"context"

	"github.com/turtacn/RetinaGuard/internal/domain/notification"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// NotificationSink publishes notifications for the delivery service:
// user targets go to notification.user, clinic targets to
// notification.clinic, keyed by target id.
type NotificationSink struct {
	producer *Producer
}

var _ notification.Sink = (*NotificationSink)(nil)

func NewNotificationSink(p *Producer) *NotificationSink {
	return &NotificationSink{producer: p}
}

func (s *NotificationSink) Notify(ctx context.Context, n notification.Notification) error {
	topic, err := notificationTopic(n.Target)
	if err != nil {
		return err
	}
	if err := s.producer.PublishEvent(ctx, topic, n.Target.ID, EventNotification, n); err != nil {
		return errors.Wrap(err, errors.ErrCodeNotificationFailed, "failed to publish notification").WithDetail(n.Target.String())
	}
	return nil
}

func notificationTopic(t notification.Target) (string, error) {
	if t.ID == "" {
		return "", errors.New(errors.ErrCodeNotificationTargetInvalid, "notification target id is empty")
	}
	switch t.Audience {
	case notification.AudienceUser:
		return TopicNotificationUser, nil
	case notification.AudienceClinic:
		return TopicNotificationClinic, nil
	default:
		return "", errors.New(errors.ErrCodeNotificationTargetInvalid, "unknown notification audience").WithDetail(string(t.Audience))
	}
}

// FindingsPublisher publishes abnormal-trend findings to trend.findings,
// keyed by patient id.
type FindingsPublisher struct {
	producer *Producer
}

func NewFindingsPublisher(p *Producer) *FindingsPublisher {
	return &FindingsPublisher{producer: p}
}

// PublishFindings stops at the first failure and reports how many findings
// were published before it.
func (f *FindingsPublisher) PublishFindings(ctx context.Context, clinicID string, findings []risk.AbnormalTrendFinding) (int, error) {
	for i, finding := range findings {
		payload := struct {
			ClinicID string `json:"clinicId"`
			risk.AbnormalTrendFinding
		}{clinicID, finding}
		if err := f.producer.PublishEvent(ctx, TopicTrendFindings, finding.PatientID, EventTrendFinding, payload); err != nil {
			return i, err
		}
	}
	return len(findings), nil
}
