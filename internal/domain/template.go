package domain

import "strings"

// PickTemplate deterministically selects one message from an ordered set
// using the local YYYYMMDD as rotating index. The rotation period equals the
// set length, and two users in different offsets may see different messages
// at the same UTC instant.
//
// Returns "" when the set is empty or the selected entry is blank after
// trimming; callers treat "" as "no message available" and must not deliver
// or write a lock.
func PickTemplate(messages []string, dayIndex int) string {
	if len(messages) == 0 {
		return ""
	}
	idx := dayIndex % len(messages)
	if idx < 0 {
		idx += len(messages)
	}
	return strings.TrimSpace(messages[idx])
}
