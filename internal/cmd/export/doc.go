// Package exportrun wires configuration, storage, and sinks into the
// export command.
package exportrun
