package protocol

// Redis naming shared by the processor (writer) and the gateway (reader).
const (
	SnapshotKeyPrefix  = "snapshot:"
	EventChannelPrefix = "events."
)

// SnapshotKey is the Redis key holding the latest event of a channel.
func SnapshotKey(channel string) string { return SnapshotKeyPrefix + channel }

// EventChannel is the Redis pub/sub channel relaying a channel's events.
func EventChannel(channel string) string { return EventChannelPrefix + channel }
