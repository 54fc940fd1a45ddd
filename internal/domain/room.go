package domain

// Room is the aggregate a lifecycle manager coordinates. It carries no
// behaviour; the manager and facades operate on it by reference.
type Room struct {
	ID   RoomID
	Name RoomName
}

// NewRoom avoids raw literals at call sites, matching the teacher's
// domain constructors.
func NewRoom(id RoomID, name RoomName) *Room {
	return &Room{ID: id, Name: name}
}

// ChannelName returns the transport-level channel name a contributor
// for the given feature should attach to. Messages, presence,
// reactions and occupancy share one channel; typing gets its own
// (spec §6, "Channel naming").
func (r *Room) ChannelName(f Feature) string {
	if f == FeatureTyping {
		return string(r.Name) + "::$chat::$typingIndicators"
	}
	return string(r.Name) + "::$chat::$chatMessages"
}
