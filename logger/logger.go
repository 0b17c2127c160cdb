// Package logger provides adapters for popular logger libraries to work with slotdb's Logger interface.
//
// The adapters allow you to use your existing logger with slotdb without writing boilerplate.
// Note that the standard library's slog.Logger already implements slotdb.Logger directly.
//
// Example with zap:
//
//	import (
//	    "github.com/alexhholmes/slotdb"
//	    "github.com/alexhholmes/slotdb/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    db, err := slotdb.Open("data.db", slotdb.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer db.Close()
//	}
package logger
