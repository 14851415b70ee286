package backend

import (
	"context"
	"errors"
	"fmt"

	"piggysaving/internal/amqp"
	"piggysaving/internal/datastore"
	"piggysaving/internal/log"
	"piggysaving/internal/remote"
	"piggysaving/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result BackendResult
		opts   = []datastore.Option{datastore.WithLogger(f.logger)}
	)

	switch config.Type {
	case LocalBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		result.Local = repo
		opts = append(opts, datastore.WithLocal(repo))
		f.logger.InfoContext(ctx, "Initialized local backend", "db_path", config.SQLiteDBPath)
	case RemoteBackend:
		result.Remote = remote.NewClient(config.RemoteTimeout, f.logger)
		opts = append(opts,
			datastore.WithRemote(result.Remote),
			datastore.WithFetchTimeout(config.RemoteTimeout))
		f.logger.InfoContext(ctx, "Initialized remote backend",
			log.FieldEndpoint, config.RemoteBaseURL,
			"timeout", config.RemoteTimeout)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	// AMQP is optional; a broker that is down must not keep the app from starting
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		c, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without notifications", log.FieldError, err)
		} else {
			amqpClient = c
			opts = append(opts, datastore.WithPublisher(NewAMQPPublisher(c)))
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	store, err := datastore.New(config.Core(), opts...)
	if err != nil {
		if result.Local != nil {
			result.Local.Close()
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		return nil, fmt.Errorf("failed to create data store: %w", err)
	}
	result.Store = store

	local := result.Local
	result.Cleanup = func() error {
		// drain in-flight publishes before the broker connection goes away
		store.Close()
		var errs []error
		if amqpClient != nil {
			errs = append(errs, amqpClient.Close())
		}
		if local != nil {
			errs = append(errs, local.Close())
		}
		return errors.Join(errs...)
	}

	f.logger.InfoContext(ctx, "Backend ready",
		log.FieldMode, config.Type.String(),
		"amqp_enabled", amqpClient != nil,
		"initialized", config.Initialized)

	return &result, nil
}
