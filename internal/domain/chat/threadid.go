package chat

import "strings"

// ThreadSeparator joins the two sorted participant ids of a thread id.
const ThreadSeparator = "_"

// ThreadID returns the canonical id of the conversation between a and b. The
// result does not depend on argument order. It is unique per pair only for
// ids without ThreadSeparator; EnsureThread rejects the others.
func ThreadID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ThreadSeparator + b
}

// sortedPair orders two participant ids the way ThreadID does.
func sortedPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func validParticipant(id string) bool {
	return strings.TrimSpace(id) != ""
}

// joinable reports whether id can be part of a thread id without colliding
// with another pair.
func joinable(id string) bool {
	return !strings.Contains(id, ThreadSeparator)
}
