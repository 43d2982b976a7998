package alert

import (
	"fmt"
	"time"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// signature closes every emergency message.
const signature = "Sent via sos-guard"

// LocationText renders a location line, falling back to the unavailable text.
func LocationText(loc *sos.Location) string {
	if loc == nil {
		return "📍 Location unavailable (GPS off?)"
	}

	return "📍 Location: " + loc.MapsURL()
}

// EmergencyMessage is sent to every contact when an alarm starts.
func EmergencyMessage(loc *sos.Location) string {
	return "🆘 SOS EMERGENCY!\nI need immediate help!\n" + LocationText(loc) + "\n" + signature
}

// WalkStartedMessage announces a safe walk.
func WalkStartedMessage(d time.Duration, loc *sos.Location) string {
	return fmt.Sprintf("🚶 Safe Walk STARTED. I'll be walking for %d minutes. "+
		"If you don't hear from me, please check in. %s",
		int(d/time.Minute), withLocation("My location: ", loc))
}

// WalkCheckInMessage confirms a check-in.
func WalkCheckInMessage(loc *sos.Location) string {
	return "✅ Safe Walk CHECK-IN: I'm safe! " + withLocation("Location: ", loc)
}

// WalkEndedMessage confirms a safe arrival.
func WalkEndedMessage(loc *sos.Location) string {
	return "🏠 Safe Walk ENDED — I have arrived safely! " + withLocation("Final location: ", loc)
}

// WalkAbandonedMessage closes a walk that ended because nobody checked in.
func WalkAbandonedMessage(loc *sos.Location) string {
	return "⚠️ Safe Walk ENDED without check-in. " + withLocation("Last location: ", loc)
}

// WalkExpiredMessage is sent when the walk deadline passes.
func WalkExpiredMessage(loc *sos.Location) string {
	return "🆘 SOS AUTO-TRIGGERED! Safe Walk timer expired with no check-in. " +
		withLocation("Last location: ", loc)
}

// WalkLocationMessage is the periodic location share. It is empty without a fix.
func WalkLocationMessage(loc *sos.Location) string {
	if loc == nil {
		return ""
	}

	return "📍 Safe Walk location update: " + loc.MapsURL()
}

func withLocation(prefix string, loc *sos.Location) string {
	if loc == nil {
		return ""
	}

	return prefix + loc.MapsURL()
}
