package actions

import (
	"github.com/cuemby/herald/pkg/types"
)

// Kind names one action in the closed set a plan may contain
type Kind string

const (
	KindGetUserContext    Kind = "getUserContext"
	KindGetCalendarEvents Kind = "getCalendarEvents"
	KindLLMPipeline       Kind = "llmPipeline"
	KindUpdateUserProfile Kind = "updateUserProfile"
	KindScheduleReminder  Kind = "scheduleReminder"
	KindSendNotification  Kind = "sendNotification"
)

// Descriptor is the static contract of an action kind
type Descriptor struct {
	Kind      Kind
	DataShape string           // Type recorded on every stored result
	State     types.StateLabel // Progress label broadcast while the action runs
}

var registry = map[Kind]Descriptor{
	KindGetUserContext:    {KindGetUserContext, "userContext", types.StateFetchingContext},
	KindGetCalendarEvents: {KindGetCalendarEvents, "calendarEvents", types.StateFetchingCalendar},
	KindLLMPipeline:       {KindLLMPipeline, "llmOutput", types.StateGeneratingResponse},
	KindUpdateUserProfile: {KindUpdateUserProfile, "profileUpdate", types.StateUpdatingProfile},
	KindScheduleReminder:  {KindScheduleReminder, "reminderSchedule", types.StateSchedulingReminder},
	KindSendNotification:  {KindSendNotification, "notificationDelivery", types.StateSendingNotification},
}

// Describe returns the descriptor for kind
func Describe(kind Kind) (Descriptor, bool) {
	d, ok := registry[kind]
	return d, ok
}

// Valid reports whether kind is in the registry
func (k Kind) Valid() bool {
	_, ok := registry[k]
	return ok
}

// Kinds returns every registered kind
func Kinds() []Kind {
	return []Kind{
		KindGetUserContext,
		KindGetCalendarEvents,
		KindLLMPipeline,
		KindUpdateUserProfile,
		KindScheduleReminder,
		KindSendNotification,
	}
}
