// Package integration runs the sync engine end to end: configuration file,
// app wiring, in-process broker and HTTP-bridged terminals.
package integration
