package meshnode

import (
	"strings"

	"github.com/MythicalCow/lifelink/meshtypes"
)

// TagTrackingId prefixes payload with an opaque tracking tag, echoed back
// through the ACK path so external consumers can observe delivery.
func TagTrackingId(trackingId, payload string) string {
	if trackingId == "" {
		return payload
	}
	return meshtypes.TrackingTagPrefix + trackingId + "]" + payload
}

// ExtractTrackingTag returns the tracking id embedded in payload, if any.
func ExtractTrackingTag(payload string) (string, bool) {
	if !strings.HasPrefix(payload, meshtypes.TrackingTagPrefix) {
		return "", false
	}
	rest := payload[len(meshtypes.TrackingTagPrefix):]
	end := strings.Index(rest, "]")
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}
