package models

// Server-sent event names emitted while streaming a run.
const (
	EventThreadCreated      = "thread.created"
	EventRunCreated         = "thread.run.created"
	EventRunQueued          = "thread.run.queued"
	EventRunInProgress      = "thread.run.in_progress"
	EventRunRequiresAction  = "thread.run.requires_action"
	EventRunCompleted       = "thread.run.completed"
	EventRunIncomplete      = "thread.run.incomplete"
	EventRunFailed          = "thread.run.failed"
	EventRunCancelling      = "thread.run.cancelling"
	EventRunCancelled       = "thread.run.cancelled"
	EventRunExpired         = "thread.run.expired"
	EventMessageCreated     = "thread.message.created"
	EventMessageInProgress  = "thread.message.in_progress"
	EventMessageDelta       = "thread.message.delta"
	EventMessageCompleted   = "thread.message.completed"
	EventMessageIncomplete  = "thread.message.incomplete"
	EventError              = "error"
	EventDone               = "done"
)

// RunEventForStatus maps a run status to its stream event name.
func RunEventForStatus(s RunStatus) string {
	switch s {
	case RunStatusQueued:
		return EventRunQueued
	case RunStatusInProgress:
		return EventRunInProgress
	case RunStatusRequiresAction:
		return EventRunRequiresAction
	case RunStatusCompleted:
		return EventRunCompleted
	case RunStatusIncomplete:
		return EventRunIncomplete
	case RunStatusFailed:
		return EventRunFailed
	case RunStatusCancelling:
		return EventRunCancelling
	case RunStatusCancelled:
		return EventRunCancelled
	case RunStatusExpired:
		return EventRunExpired
	}
	return ""
}
