// Package logging provides structured logging for cornea.
//
// This package wraps a zap logger with convenience functions for the
// logging patterns used throughout the Iris client and GDB bridge. It
// provides both general logging functions and specialized functions for
// the two protocols this module speaks.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: frame bytes, hex dumps, individual GDB packets, completed RPC
//     calls, event deliveries
//   - Info: connection lifecycle
//   - Warn: dropped events, failed RPC calls
//   - Error: fatal transport/bridge failures
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("iris connected",
//	    zap.String("addr", "127.0.0.1:7100"),
//	    zap.Uint32("instance_id", instID),
//	)
//
// # Specialized Logging
//
// The package provides domain-specific logging functions:
//
// Connection lifecycle:
//
//	logging.LogConnection(addr, "handshake_complete")
//	logging.LogConnection(addr, "closed")
//
// RPC calls and event delivery:
//
//	logging.LogRPCCall(method, id, dur, err)
//	logging.LogEventDelivery(sourceID, instanceID, queueDepth)
//
// GDB packets and raw frame bytes:
//
//	logging.LogGDBPacket("recv", "$g#67")
//	logging.LogFrame("send", rawBytes)
//
// # Configuration
//
// Initialize logging once at process start:
//
//	logging.InitializeFromEnv()
//	defer logging.Sync()
//
// The level is read from CORNEA_LOG_LEVEL; with no level set, logging stays
// silent (a no-op logger) rather than defaulting to a verbose level,
// matching a CLI tool's expectation of quiet output unless asked for. A set
// but unrecognized level is treated as "info".
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap
// logger handles synchronization automatically.
package logging
