package group

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MycelicMemory/htm/internal/errs"
)

// Event is one of the three channel event kinds a group member can publish.
// Receivers must be commutative with respect to these: added(n) union
// added(n) is added(n); evicted(n) after added(n) removes it; cleared
// supersedes every event on the channel with an earlier timestamp.
type Event string

const (
	EventAdded   Event = "added"
	EventEvicted Event = "evicted"
	EventCleared Event = "cleared"
)

// Payload is the self-describing record carried on the group channel.
type Payload struct {
	Event         Event     `json:"event"`
	NodeID        int64     `json:"node_id"`
	OriginRobotID int64     `json:"origin_robot_id"`
	TS            time.Time `json:"ts"`
}

func encodePayload(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, errs.Validation("malformed channel payload: %v", err)
	}
	return p, nil
}

// ChannelName returns the wm_<sanitized(name)> LISTEN/NOTIFY channel name
// for a group: lowercased, every non-alphanumeric replaced with "_".
func ChannelName(groupName string) string {
	var b strings.Builder
	b.WriteString("wm_")
	for _, r := range strings.ToLower(groupName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
