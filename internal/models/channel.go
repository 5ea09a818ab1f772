package models

// ChannelState is the lifecycle of the realtime update channel.
type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelConnected
	ChannelPermanentlyClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelConnected:
		return "connected"
	case ChannelPermanentlyClosed:
		return "permanently_closed"
	default:
		return "disconnected"
	}
}

func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ChannelState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = ChannelConnecting
	case "connected":
		*s = ChannelConnected
	case "permanently_closed":
		*s = ChannelPermanentlyClosed
	default:
		*s = ChannelDisconnected
	}
	return nil
}
