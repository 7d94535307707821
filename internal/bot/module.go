// Package bot connects the recorder to gateway events and the configured
// auto-listen channels.
package bot

import (
	"go.uber.org/fx"
)

// Module provides bot service dependencies.
var Module = fx.Module("bot",
	fx.Provide(NewBot),
)
