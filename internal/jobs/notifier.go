package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/appointment"
)

// Notifier delivers one notification to a patient.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, appt *appointment.Appointment) error
}

// Message renders the patient-facing text for kind.
func Message(kind Kind, appt *appointment.Appointment) string {
	switch kind {
	case KindConfirmation:
		return fmt.Sprintf("Hello %s, your appointment on %s at %s is booked. Confirmation code: %s.",
			appt.PatientName, appt.Date, appt.Time, appt.ConfirmationToken)
	case KindReminder24h:
		return fmt.Sprintf("Hello %s, this is a reminder of your appointment tomorrow (%s) at %s.",
			appt.PatientName, appt.Date, appt.Time)
	case KindReminder1h:
		return fmt.Sprintf("Hello %s, your appointment starts in one hour, at %s.",
			appt.PatientName, appt.Time)
	default:
		return ""
	}
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, kind Kind, appt *appointment.Appointment) error {
	msg := Message(kind, appt)
	if msg == "" {
		return fmt.Errorf("unknown notification kind %q", kind)
	}

	n.logger.Info("notification sent",
		zap.String("kind", string(kind)),
		zap.String("appointment_id", appt.ID.String()),
	)
	// contact details and text only at debug, production logs stay free of them
	n.logger.Debug("notification content",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("email", appt.PatientEmail),
		zap.String("phone", appt.PatientPhone),
		zap.String("message", msg),
	)
	return nil
}
