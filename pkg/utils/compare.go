package utils

import (
	"github.com/nats-io/nats.go"
)

// StreamConfigEqual reports whether an existing work-queue stream already
// matches the desired configuration. Only the properties the task queue sets
// are compared; server-side defaults on other fields must not force an
// update.
func StreamConfigEqual(current, desired nats.StreamConfig) bool {
	if current.Name != desired.Name ||
		current.Retention != desired.Retention ||
		current.Storage != desired.Storage ||
		current.MaxMsgs != desired.MaxMsgs ||
		current.MaxAge != desired.MaxAge {
		return false
	}
	return subjectsEqual(current.Subjects, desired.Subjects)
}

// ConsumerConfigEqual reports whether an existing durable consumer matches
// the desired configuration on the properties that affect task delivery. A
// mismatch here means the consumer must be recreated; NATS cannot update
// most of these in place.
func ConsumerConfigEqual(current, desired nats.ConsumerConfig) bool {
	return current.Durable == desired.Durable &&
		current.AckPolicy == desired.AckPolicy &&
		current.FilterSubject == desired.FilterSubject &&
		current.DeliverGroup == desired.DeliverGroup &&
		current.MaxDeliver == desired.MaxDeliver
}

func subjectsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
