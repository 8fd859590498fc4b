package actions

import "log/slog"

// BuiltinConfig wires the dependencies of the built-in actions.
type BuiltinConfig struct {
	HTTP   HTTPConfig
	Mailer Mailer
	Logger *slog.Logger
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	return reg.Register(
		NewSendEmailAction(cfg.Mailer),
		NewHTTPRequestAction(cfg.HTTP),
		NewTransformAction(),
		NewLogAction(cfg.Logger),
	)
}
