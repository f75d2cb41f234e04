// raft/util.go
package raft

import "fmt"

// Command is the serialized shape of a client operation stored as an
// Entry's Payload (§2's "opaque command bytes", applied by the state
// machine once committed).
type Command struct {
	Type  string `json:"type"` // "PUT" or "DELETE"
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// FormatTerm formats a term for logging.
func FormatTerm(term uint64) string {
	return fmt.Sprintf("T%d", term)
}

// FormatIndex formats an index for logging.
func FormatIndex(index uint64) string {
	return fmt.Sprintf("I%d", index)
}

// FormatEntry formats a log entry for logging.
func FormatEntry(e Entry) string {
	return fmt.Sprintf("%s:%s", FormatTerm(e.Term), FormatIndex(e.Index))
}

// majorityOf returns the smallest count that constitutes a majority of
// a cluster with n voting members (self included).
func majorityOf(n int) int {
	return n/2 + 1
}
