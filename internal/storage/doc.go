package storage

// Package storage provides a minimal persistence layer for the daemon.
//
// It currently supports:
//   - Dispatch log appends (per-target write outcomes)
//   - Present-value history (committed property transitions)
