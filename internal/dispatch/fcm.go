package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/models"
)

// ErrNoDeviceToken means the ambulance never registered a device for push,
// so the next notifier in a Fanout gets its turn.
var ErrNoDeviceToken = errors.New("ambulance has no device token")

// Sender is the part of the messaging client the notifier uses.
type Sender interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
}

// FCMNotifier pushes a high-priority data message to the booked
// ambulance's device so the driver app wakes up for the prompt.
type FCMNotifier struct {
	sender Sender
	log    *zap.Logger
}

func NewFCMNotifier(ctx context.Context, app *firebase.App, log *zap.Logger) (*FCMNotifier, error) {
	c, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return &FCMNotifier{sender: c, log: log}, nil
}

func NewFCMNotifierWithSender(s Sender, log *zap.Logger) *FCMNotifier {
	return &FCMNotifier{sender: s, log: log}
}

func (f *FCMNotifier) TripRequested(ctx context.Context, a models.Ambulance, t models.Trip) error {
	if a.DeviceToken == "" {
		return ErrNoDeviceToken
	}
	priority := t.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	msg := &messaging.Message{
		Token: a.DeviceToken,
		Notification: &messaging.Notification{
			Title: "New trip request",
			Body:  fmt.Sprintf("Patient %s to %s (%s)", orDash(t.PatientName), orDash(t.HospitalID), priority),
		},
		Data: map[string]string{
			"type":     "trip_requested",
			"trip_id":  t.ID,
			"plate":    a.Plate,
			"priority": priority,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      durationPtr(5 * time.Minute),
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true, Sound: "default"},
			},
		},
	}
	id, err := f.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("error sending FCM message: %w", err)
	}
	f.log.Debug("trip push sent", zap.String("trip_id", t.ID), zap.String("plate", a.Plate), zap.String("message_id", id))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func durationPtr(d time.Duration) *time.Duration { return &d }
