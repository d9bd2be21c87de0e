// Package logger builds the zap logger used by the CLI and passed into the
// engine.
//
// # Configuration
//
//   - Level: debug, info, warn, error
//   - Format: console (colored, human oriented) or json
//
// # Usage
//
//	log, err := logger.New(&logger.Config{Level: "info", Format: "json"})
//	if err != nil {
//		return err
//	}
//	defer log.Sync()
//	log.Info("run started", zap.String("run_id", id))
package logger
