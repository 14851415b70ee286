package backend

import (
	"fmt"

	"piggysaving/internal/config"
	"piggysaving/internal/core"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := LocalBackend
	if appConfig.UsingRemote {
		backendType = RemoteBackend
	}

	return Config{
		Type:               backendType,
		WithdrawalsEnabled: appConfig.WithdrawalsEnabled,
		Initialized:        appConfig.Initialized,

		RemoteBaseURL: appConfig.RemoteBaseURL,
		RemoteTimeout: appConfig.RemoteTimeout,

		SQLiteDBPath: appConfig.SQLiteDBPath,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case LocalBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for local backend")
		}
	case RemoteBackend:
		if c.RemoteBaseURL == "" {
			return fmt.Errorf("remote base URL is required for remote backend")
		}
	}
	// AMQP is optional, so we don't validate it

	return nil
}

// Core returns the flags the data store reads.
func (c Config) Core() core.Config {
	return core.Config{
		UsingRemote:        c.Type == RemoteBackend,
		RemoteBaseURL:      c.RemoteBaseURL,
		WithdrawalsEnabled: c.WithdrawalsEnabled,
		Initialized:        c.Initialized,
	}
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{LocalBackend, RemoteBackend}
}
