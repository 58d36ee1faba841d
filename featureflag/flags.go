package featureflag

type Flag string

const (
	FlagDisableSessionState              Flag = "DISABLE_SESSION_STATE"
	FlagDisableParticipantJoinBroadcast  Flag = "DISABLE_PARTICIPANT_JOIN_BROADCAST"
	FlagDisableParticipantLeaveBroadcast Flag = "DISABLE_PARTICIPANT_LEAVE_BROADCAST"
	FlagDisableEntityAddBroadcast        Flag = "DISABLE_ENTITY_ADD_BROADCAST"
	FlagDisableEntityDeleteBroadcast     Flag = "DISABLE_ENTITY_DELETE_BROADCAST"
	FlagDisableEntityMoveBroadcast       Flag = "DISABLE_ENTITY_MOVE_BROADCAST"
	FlagDisableCustomMessageBroadcast    Flag = "DISABLE_CUSTOM_MESSAGE_BROADCAST"
	FlagDisableWatchEvents               Flag = "DISABLE_WATCH_EVENTS"
	FlagDisableSessionReports            Flag = "DISABLE_SESSION_REPORTS"
)
