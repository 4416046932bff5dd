package main

import "strings"

const (
	maxMessageLen = 2000
	maxHandleLen  = 40
	maxQueryLimit = 200
	defaultLimit  = 80
)

// cleanRoom normalizes a room key the same way the REST surface does: rooms
// are case-insensitive opaque strings.
func cleanRoom(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}

// clampLimit bounds a requested window size to [1, max], falling back to def
// when the request carries none.
func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// truncate caps s at max runes without splitting a multi-byte character.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
