package voice

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
	"github.com/Raikerian/go-discord-voicerec/internal/metrics"
)

// Module provides the connector and recorder. A Transport must be provided
// elsewhere.
var Module = fx.Module("voice",
	fx.Provide(
		NewConnectorFromConfig,
		NewRecorder,
	),
)

// ConnectorDeps holds dependencies for NewConnectorFromConfig.
type ConnectorDeps struct {
	fx.In
	Cfg       *config.Config
	Transport Transport
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// NewConnectorFromConfig builds the connector from the recording settings.
func NewConnectorFromConfig(deps ConnectorDeps) *Connector {
	return NewConnector(ConnectorParams{
		Transport:      deps.Transport,
		Logger:         deps.Logger,
		Metrics:        deps.Metrics,
		FrameBuffer:    deps.Cfg.Recording.FrameBuffer,
		SSRCCacheSize:  deps.Cfg.Recording.SSRCCacheSize,
		IdleDisconnect: deps.Cfg.Recording.IdleDisconnect,
	})
}
