// Package ports defines the interfaces (ports) that external adapters must implement.
// The table engine only talks to identity, permissions, audit storage and
// edit locks through these, so each can be swapped or mocked in tests.
package ports
