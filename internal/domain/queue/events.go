package queue

// Event names published by the queue service. The names are part of the
// client wire contract and predate this service, so they keep their
// original mixed casing.
const (
	// EventPatientRequest carries the full entry after a successful enqueue.
	EventPatientRequest = "patient-request"

	// EventQueueChanged signals that an entry was removed or marked pending.
	// The payload names the affected position; subscribers re-fetch the list.
	EventQueueChanged = "queue-changed"

	// EventDoctorFetchQueue tells a doctor's dashboard to reload. No payload.
	EventDoctorFetchQueue = "doctorFetchQueue"
)
