package main

// threadID derives the conversation key for a two-party thread. The handles
// are ordered lexicographically before joining, so threadID(a, b) and
// threadID(b, a) always name the same thread.
func threadID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + "__" + b
}
