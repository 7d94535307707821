// Package config provides configuration loading, defaults and the Fx module exposing them.
package config

import (
	"go.uber.org/fx"
)

// Module provides configuration dependencies.
var Module = fx.Module("config",
	fx.Provide(LoadConfig),
)
