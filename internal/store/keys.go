package store

import (
	"fmt"
)

// Key layout of the object store. The patient prefix groups everything
// belonging to one patient so retention and access control can operate
// on a single prefix.

func sessionIndexKey(sessionID string) string {
	return "sessions/" + sessionID
}

func sessionKey(prefix, sessionID string) string {
	return fmt.Sprintf("%s/%s/session.json", prefix, sessionID)
}

func messageKey(prefix, sessionID string, index int) string {
	return fmt.Sprintf("%s/%s/messages/%d.json", prefix, sessionID, index)
}

func messageCountKey(prefix, sessionID string) string {
	return fmt.Sprintf("%s/%s/messages.count", prefix, sessionID)
}

func interventionKey(prefix, sessionID string, index int) string {
	return fmt.Sprintf("%s/%s/interventions/%d.json", prefix, sessionID, index)
}

func interventionCountKey(prefix, sessionID string) string {
	return fmt.Sprintf("%s/%s/interventions.count", prefix, sessionID)
}

func turnLockKey(sessionID string) string {
	return "locks/turn/" + sessionID
}

// activeSetKey holds the ids of sessions with status active, so the
// idle reaper does not scan every patient prefix
const activeSetKey = "sessions/active"
