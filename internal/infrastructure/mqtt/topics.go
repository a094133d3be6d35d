package mqtt

import "strings"

// Topics builds probebench topic names under a configurable prefix.
//
//	topics := mqtt.NewTopics("probebench")
//	topics.Stream("can0-vcan0")  // "probebench/stream/can0-vcan0"
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, trimming any trailing slash.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.TrimRight(prefix, "/")}
}

// Stream is the topic carrying envelopes for one channel.
func (t Topics) Stream(channel string) string {
	return t.Prefix + "/stream/" + channel
}

// AllStreams matches every channel's stream topic.
func (t Topics) AllStreams() string {
	return t.Prefix + "/stream/+"
}

// ChannelStatus is the retained subscriber/broadcast status of one channel.
func (t Topics) ChannelStatus(channel string) string {
	return t.Prefix + "/channels/" + channel
}

// SystemStatus is the retained online/offline topic for a client.
func (t Topics) SystemStatus(clientID string) string {
	return t.Prefix + "/system/" + clientID
}

// ChannelFromStream extracts the channel from a stream topic. ok is false
// when topic is not a stream topic under this prefix.
func (t Topics) ChannelFromStream(topic string) (channel string, ok bool) {
	channel, ok = strings.CutPrefix(topic, t.Prefix+"/stream/")
	if !ok || channel == "" || strings.Contains(channel, "/") {
		return "", false
	}
	return channel, true
}
