// Package system sets up the process logger: a zap core that mirrors every
// line to an append-only log file and the console.
package system
