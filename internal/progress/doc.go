// Package progress tracks run counters and renders live feedback for the
// read and export commands.
package progress
