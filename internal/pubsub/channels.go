package pubsub

import "fmt"

// Channel naming. Each room maps to one channel; presence events use a
// single fixed global channel shared by every process.
const (
	channelRoomFormat = "chat:room:%s"
	ChannelPresence   = "chat:presence"
)

// RoomChannel returns the bus channel name for a room.
func RoomChannel(roomID string) string {
	return fmt.Sprintf(channelRoomFormat, roomID)
}
