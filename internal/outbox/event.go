package outbox

// Event type names double as Kafka topics (one event type per topic).
const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventAppointmentNoShow    = "booking.appointment.no_show.v1"
	EventLedgerExpired        = "ledger.package.expired.v1"
	EventNotificationSent     = "notification.sent.v1"
	EventNotificationFailed   = "notification.failed.v1"
)

// Event is the domain event envelope written to the outbox table in
// the same transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
