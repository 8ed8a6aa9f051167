package emergency

// Realtime and push event names.
const (
	EventCreated             = "emergency_created"
	EventParticipantAccepted = "participant_accepted"
	EventParticipantRejected = "participant_rejected"
	EventLocationUpdate      = "location_update"
	EventEnded               = "emergency_ended"
	EventCancelled           = "emergency_cancelled"
	EventEscalated           = "emergency_escalated"
)
