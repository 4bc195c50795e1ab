package endpoints

import (
	"net/http"

	"github.com/jackzampolin/castwright/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// MetricsHandler serves /metrics; nil answers 503.
	MetricsHandler http.Handler
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&MetricsEndpoint{Handler: cfg.MetricsHandler},

		// Topic pipeline endpoints
		&StartTopicEndpoint{},
		&TopicStatusEndpoint{},
		&GenerateContentEndpoint{},
		&ListUnitsEndpoint{},
		&DispatchEndpoint{},
		&PollEndpoint{},
		&StitchEndpoint{},
		&RunTopicEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}
