// Package logger constructs the structured logger every subsystem of the
// engine is wired with. It is a thin wrapper around zap's production
// configuration, tagging every line with the owning service name so that
// log output from a keyspace embedded alongside other components in a host
// process can be told apart at a glance.
package logger

import (
	"go.uber.org/zap"
)

// New builds a *zap.SugaredLogger for service, using zap's production JSON
// encoder config. Callers that need a human-readable console logger during
// local development should build one directly with zap.NewDevelopment() and
// pass the result's Sugar() through Config.Logger instead; this constructor
// is the default used by pkg/ignite.NewInstance.
func New(service string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails if the process's stderr sink can't
		// be opened, which indicates a broken process environment this
		// engine can't recover from either way.
		panic("logger: failed to initialize zap production logger: " + err.Error())
	}
	return base.Named(service).Sugar()
}

// NewNop returns a logger that discards everything, for tests and other
// contexts where log output is not useful.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
