// Package readrun wires configuration, storage, source, and readers into
// the read command.
package readrun
