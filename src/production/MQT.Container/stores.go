package container

import (
	"context"
	"fmt"

	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	implementation "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
	"gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Startup/health"
)

// openStore connects the backend named by cfg.Driver and returns its close func
func openStore(cfg *config.DatabaseConfig, log *logger.Logger) (interfaces.Store, func() error, error) {
	switch cfg.Driver {
	case "", "postgres":
		db, err := health.ConnectPostgresWithTimeout(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := health.CreateTables(context.Background(), db); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("failed to create tables: %w", err)
			}
			log.Info("Database schema ready")
		}
		log.Logger.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("Connected to PostgreSQL")
		return implementation.NewPostgresStore(db), db.Close, nil

	case "mongo":
		client, err := health.ConnectMongoWithTimeout(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Logger.Info().Str("db", cfg.DBName).Msg("Connected to MongoDB")
		closeFn := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
			defer cancel()
			return client.Disconnect(ctx)
		}
		return implementation.NewMongoStore(client.Database(cfg.DBName)), closeFn, nil
	}
	return nil, nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Driver)
}

// openMarkStore builds the watermark store. A nil cfg keeps marks in memory
// for the lifetime of the process. devices is only used by the device store.
func openMarkStore(ctx context.Context, cfg *config.MarkConfig, devices interfaces.DeviceRepository) (interfaces.MarkStore, func() error, error) {
	if cfg == nil {
		return implementation.NewMemoryMarkStore(), nil, nil
	}
	switch cfg.Store {
	case config.MarkStoreFile:
		return implementation.NewFileMarkStore(cfg.Path), nil, nil
	case config.MarkStoreSQLite:
		s, err := implementation.NewSQLiteMarkStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.MarkStoreDevice:
		if devices == nil {
			return nil, nil, fmt.Errorf("device marks need a database")
		}
		return implementation.NewDeviceMarkStore(devices), nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported MARK_STORE %q", cfg.Store)
}
