package container

import (
	"context"
	"fmt"
	"sync"

	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	metrics "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Metrics"
	jobqueue "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Queue"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

// Container manages dependencies and their lifecycle
type Container struct {
	logger *logger.Logger

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order on Shutdown
	cleanupFuncs []func() error
}

// LoaderContainer manages dependencies for the loader service
type LoaderContainer struct {
	*Container
	config *config.LoaderConfig

	store    interfaces.Store
	registry *metrics.Registry
	metrics  *metrics.LoaderMetrics
	session  *mqtbroker.Session
	queue    *jobqueue.Queue
}

// BridgeContainer holds what every republishing bridge needs: a broker
// session, a mark store and a metrics registry pushed at exit
type BridgeContainer struct {
	*Container
	source   string
	mqtt     config.MQTTConfig
	process  config.ProcessConfig
	pushCfg  config.MetricsConfig
	mark     *config.MarkConfig     // nil keeps marks in memory
	database *config.DatabaseConfig // nil when the bridge never reads the database

	store    interfaces.Store
	marks    interfaces.MarkStore
	registry *metrics.Registry
	metrics  *metrics.BridgeMetrics
	session  *mqtbroker.Session
}

// ClarityContainer manages dependencies for the Clarity bridge
type ClarityContainer struct {
	*BridgeContainer
	config *config.ClarityConfig
}

// DefraContainer manages dependencies for the DEFRA bridge
type DefraContainer struct {
	*BridgeContainer
	config *config.DefraConfig
}

// TTNContainer manages dependencies for the TTN bridge
type TTNContainer struct {
	*BridgeContainer
	config   *config.TTNConfig
	upstream *mqtbroker.Session
	queue    *jobqueue.Queue
}

// DevCheckerContainer manages dependencies for the visibility sweep
type DevCheckerContainer struct {
	*Container
	config *config.DevCheckerConfig
	store  interfaces.Store
}

func newContainer(log *logger.Logger) *Container {
	return &Container{logger: log}
}

// NewLoaderContainer creates a new container for the loader service
func NewLoaderContainer() (*LoaderContainer, error) {
	cfg, err := config.LoadLoaderConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load loader configuration: %w", err)
	}
	return &LoaderContainer{
		Container: newContainer(logger.NewLogger(&cfg.Logging)),
		config:    cfg,
	}, nil
}

// NewClarityContainer creates a new container for the Clarity bridge
func NewClarityContainer() (*ClarityContainer, error) {
	cfg, err := config.LoadClarityConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load clarity configuration: %w", err)
	}
	log := logger.NewLogger(&cfg.Logging)
	return &ClarityContainer{
		BridgeContainer: &BridgeContainer{
			Container: newContainer(log),
			source:    "clarity",
			mqtt:      cfg.MQTT,
			process:   cfg.Process,
			pushCfg:   cfg.Metrics,
			mark:      &cfg.Mark,
		},
		config: cfg,
	}, nil
}

// NewDefraContainer creates a new container for the DEFRA bridge
func NewDefraContainer() (*DefraContainer, error) {
	cfg, err := config.LoadDefraConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load defra configuration: %w", err)
	}
	log := logger.NewLogger(&cfg.Logging)
	bc := &BridgeContainer{
		Container: newContainer(log),
		source:    "defra",
		mqtt:      cfg.MQTT,
		process:   cfg.Process,
		pushCfg:   cfg.Metrics,
		mark:      &cfg.Mark,
	}
	if cfg.Mark.Store == config.MarkStoreDevice {
		bc.database = &cfg.Database
	}
	return &DefraContainer{BridgeContainer: bc, config: cfg}, nil
}

// NewTTNContainer creates a new container for the TTN bridge
func NewTTNContainer() (*TTNContainer, error) {
	cfg, err := config.LoadTTNConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ttn configuration: %w", err)
	}
	log := logger.NewLogger(&cfg.Logging)
	return &TTNContainer{
		BridgeContainer: &BridgeContainer{
			Container: newContainer(log),
			source:    "ttn",
			mqtt:      cfg.MQTT,
			process:   cfg.Process,
		},
		config: cfg,
	}, nil
}

// NewDevCheckerContainer creates a new container for the visibility sweep
func NewDevCheckerContainer() (*DevCheckerContainer, error) {
	cfg, err := config.LoadDevCheckerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load devchecker configuration: %w", err)
	}
	return &DevCheckerContainer{
		Container: newContainer(logger.NewLogger(&cfg.Logging)),
		config:    cfg,
	}, nil
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// WritePIDFile records the process id at path. Failure is logged, never fatal.
func (c *Container) WritePIDFile(path string) {
	if path == "" {
		return
	}
	remove, err := WritePIDFile(path)
	if err != nil {
		c.logger.Logger.Warn().Err(err).Str("path", path).Msg("Unable to write PID file")
		return
	}
	c.AddCleanupFunc(remove)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	// Execute cleanup functions in reverse order
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Debug("Container shutdown complete")
	return nil
}

// GetConfig returns the loader configuration
func (c *LoaderContainer) GetConfig() *config.LoaderConfig {
	return c.config
}

// GetStore returns the reading store, connecting on first use
func (c *LoaderContainer) GetStore() (interfaces.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		store, closeFn, err := openStore(&c.config.Database, c.logger)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.cleanupFuncs = append(c.cleanupFuncs, closeFn)
	}
	return c.store, nil
}

// GetRegistry returns the metrics registry served on /metrics
func (c *LoaderContainer) GetRegistry() *metrics.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry == nil {
		c.registry = metrics.NewRegistry(true)
	}
	return c.registry
}

// GetMetrics returns the loader collectors registered on GetRegistry
func (c *LoaderContainer) GetMetrics() *metrics.LoaderMetrics {
	reg := c.GetRegistry()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metrics == nil {
		c.metrics = metrics.NewLoaderMetrics(reg.Prometheus())
	}
	return c.metrics
}

// GetSession returns the broker session the loader subscribes on
func (c *LoaderContainer) GetSession() *mqtbroker.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		s := mqtbroker.NewSession(c.config.MQTT, c.logger.WithComponent("mqtt"))
		c.session = s
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			s.Disconnect()
			return nil
		})
	}
	return c.session
}

// GetQueue returns the job queue between the subscriber and the worker
func (c *LoaderContainer) GetQueue() *jobqueue.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue == nil {
		c.queue = jobqueue.New(c.config.MaxJobs, c.config.MaxMessageNumber, c.logger.WithComponent("queue"))
	}
	return c.queue
}

// Source names the bridge in logs and metrics
func (c *BridgeContainer) Source() string {
	return c.source
}

// DryRun reports whether readings are logged instead of published
func (c *BridgeContainer) DryRun() bool {
	return c.process.DryRun
}

// GetStore returns the reading database. Only bridges configured with a
// database can use it.
func (c *BridgeContainer) GetStore() (interfaces.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.database == nil {
		return nil, fmt.Errorf("%s bridge has no database configured", c.source)
	}
	if c.store == nil {
		store, closeFn, err := openStore(c.database, c.logger)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.cleanupFuncs = append(c.cleanupFuncs, closeFn)
	}
	return c.store, nil
}

// GetMarkStore returns the watermark store selected by MARK_STORE
func (c *BridgeContainer) GetMarkStore(ctx context.Context) (interfaces.MarkStore, error) {
	c.mu.Lock()
	if c.marks != nil {
		c.mu.Unlock()
		return c.marks, nil
	}
	c.mu.Unlock()

	var devices interfaces.DeviceRepository
	if c.mark != nil && c.mark.Store == config.MarkStoreDevice {
		// Get the store without holding the lock to avoid deadlock
		store, err := c.GetStore()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for device marks: %w", err)
		}
		devices = store
	}

	marks, closeFn, err := openMarkStore(ctx, c.mark, devices)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks = marks
	if closeFn != nil {
		c.cleanupFuncs = append(c.cleanupFuncs, closeFn)
	}
	return c.marks, nil
}

// GetRegistry returns the registry pushed to the Pushgateway at exit
func (c *BridgeContainer) GetRegistry() *metrics.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry == nil {
		c.registry = metrics.NewRegistry(false)
	}
	return c.registry
}

// GetMetrics returns the run collectors for this bridge
func (c *BridgeContainer) GetMetrics() *metrics.BridgeMetrics {
	reg := c.GetRegistry()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metrics == nil {
		c.metrics = metrics.NewBridgeMetrics(reg.Prometheus(), c.source)
	}
	return c.metrics
}

// GetSession returns the session readings are republished on
func (c *BridgeContainer) GetSession() *mqtbroker.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		s := mqtbroker.NewSession(c.mqtt, c.logger.WithComponent("mqtt"))
		c.session = s
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			s.Disconnect()
			return nil
		})
	}
	return c.session
}

// GetPublisher connects the session and returns it, or a logging publisher in dry-run mode
func (c *BridgeContainer) GetPublisher(ctx context.Context) (mqtbridge.Publisher, error) {
	if c.process.DryRun {
		return mqtbridge.NewDryRunPublisher(c.logger.WithComponent("publisher")), nil
	}
	s := c.GetSession()
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// PushMetrics sends the registry to PUSHGATEWAY_URL when one is configured
func (c *BridgeContainer) PushMetrics(ctx context.Context) {
	if c.pushCfg.PushgatewayURL == "" {
		return
	}
	if err := c.GetRegistry().Push(ctx, c.pushCfg.PushgatewayURL, c.pushCfg.JobName); err != nil {
		c.logger.Logger.Warn().Err(err).Msg("Metrics push failed")
	}
}

// GetConfig returns the Clarity configuration
func (c *ClarityContainer) GetConfig() *config.ClarityConfig {
	return c.config
}

// GetConfig returns the DEFRA configuration
func (c *DefraContainer) GetConfig() *config.DefraConfig {
	return c.config
}

// GetConfig returns the TTN configuration
func (c *TTNContainer) GetConfig() *config.TTNConfig {
	return c.config
}

// GetUpstream returns the session subscribed to the TTN application topic
func (c *TTNContainer) GetUpstream() *mqtbroker.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.upstream == nil {
		s := mqtbroker.NewSession(c.config.Upstream, c.logger.WithComponent("ttn"))
		c.upstream = s
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			s.Disconnect()
			return nil
		})
	}
	return c.upstream
}

// GetQueue returns the queue uplinks wait in before republishing
func (c *TTNContainer) GetQueue() *jobqueue.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue == nil {
		c.queue = jobqueue.New(c.config.MaxJobs, 10000, c.logger.WithComponent("queue"))
	}
	return c.queue
}

// GetConfig returns the sweep configuration
func (c *DevCheckerContainer) GetConfig() *config.DevCheckerConfig {
	return c.config
}

// GetStore returns the device database
func (c *DevCheckerContainer) GetStore() (interfaces.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		store, closeFn, err := openStore(&c.config.Database, c.logger)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.cleanupFuncs = append(c.cleanupFuncs, closeFn)
	}
	return c.store, nil
}
