package logging

import "go.uber.org/zap"

// NewLogger builds the process-wide logger the same way the teacher's
// main.go does: development encoding (console, caller lines) for "local",
// production encoding (JSON) otherwise.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
