package outbox

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the state change. The Kafka topic name equals
// EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentBooked    = "scheduling.appointment.booked.v1"
	EventAppointmentCancelled = "scheduling.appointment.cancelled.v1"
)
