// Package logging provides structured logging for roster processes.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent context attributes. Coordination decisions (lock grants,
// reclaims, cascade releases) are easiest to reconstruct after the fact when
// every process writes the same structured fields.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/.roster/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	lockLog := logger.WithComponent("lock").WithSession(sessionID)
//	lockLog.Info("lock granted", "lock", "db-migrate")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"lock granted","component":"lock","session_id":"...","lock":"db-migrate"}
//
// # Nil Safety
//
// All logging methods are no-ops on a nil *Logger, so components accept an
// optional logger without guarding every call site.
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named roster.log.1, roster.log.2, etc., where .1 is the
// most recent backup.
//
// # Testing
//
// Use [NopLogger] to discard output.
package logging
