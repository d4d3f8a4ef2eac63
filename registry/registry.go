package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

var (
	ErrNoInstances   = errors.New("no healthy instances")
	ErrNotRegistered = errors.New("service not registered")
)

// Instance is one healthy endpoint of a registered service.
type Instance struct {
	ID       string
	Host     string
	Port     int
	Tags     []string
	Meta     map[string]string
	LastSeen time.Time
}

// Addr returns the host:port endpoint string.
func (i Instance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Config holds registry connection settings.
type Config struct {
	Host            string
	Port            int
	RefreshInterval time.Duration
	DeregisterAfter time.Duration
}

// DefaultConfig returns registry settings matching a local consul agent.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8500,
		RefreshInterval: 15 * time.Second,
		DeregisterAfter: 90 * time.Second,
	}
}

// Client registers services with consul and discovers peers. Health is
// reported via a TTL check refreshed by a heartbeat goroutine; missed
// refreshes mark the instance unhealthy and consul eventually evicts it.
type Client struct {
	consul    *api.Client
	config    Config
	logger    *zap.Logger
	serviceID string
	checkID   string
	stop      chan struct{}
	done      chan struct{}
}

// NewClient connects to the consul agent.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	consulConfig := api.DefaultConfig()
	consulConfig.Address = fmt.Sprintf("%s:%d", config.Host, config.Port)

	consul, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &Client{
		consul: consul,
		config: config,
		logger: logger,
	}, nil
}

// Register registers this service instance with a TTL health check and
// starts the heartbeat worker.
func (c *Client) Register(name string, port int, tags []string, meta map[string]string) error {
	c.serviceID = fmt.Sprintf("%s-%d", name, port)
	c.checkID = "service:" + c.serviceID

	registration := &api.AgentServiceRegistration{
		ID:   c.serviceID,
		Name: name,
		Port: port,
		Tags: tags,
		Meta: meta,
		Check: &api.AgentServiceCheck{
			CheckID:                        c.checkID,
			TTL:                            (c.config.RefreshInterval * 2).String(),
			DeregisterCriticalServiceAfter: c.config.DeregisterAfter.String(),
		},
	}

	if err := c.consul.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}

	// Pass the first TTL immediately so the instance is discoverable
	// before the first heartbeat tick.
	if err := c.consul.Agent().PassTTL(c.checkID, "registered"); err != nil {
		c.logger.Warn("initial TTL pass failed", zap.Error(err))
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.heartbeat()

	c.logger.Info("Registered with consul",
		zap.String("service", name),
		zap.String("id", c.serviceID),
		zap.Int("port", port),
	)

	return nil
}

// Deregister stops the heartbeat and removes this instance.
func (c *Client) Deregister() error {
	if c.serviceID == "" {
		return ErrNotRegistered
	}

	close(c.stop)
	<-c.done

	if err := c.consul.Agent().ServiceDeregister(c.serviceID); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", c.serviceID, err)
	}

	c.logger.Info("Deregistered from consul", zap.String("id", c.serviceID))
	return nil
}

// Lookup returns the instances of a service with a passing TTL check.
func (c *Client) Lookup(ctx context.Context, serviceName string) ([]Instance, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := c.consul.Health().Service(serviceName, "", true, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", serviceName, err)
	}

	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		host := entry.Service.Address
		if host == "" {
			host = entry.Node.Address
		}
		instances = append(instances, Instance{
			ID:       entry.Service.ID,
			Host:     host,
			Port:     entry.Service.Port,
			Tags:     entry.Service.Tags,
			Meta:     entry.Service.Meta,
			LastSeen: lastSeen(entry),
		})
	}

	return instances, nil
}

func (c *Client) heartbeat() {
	defer close(c.done)

	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.consul.Agent().PassTTL(c.checkID, "alive"); err != nil {
				c.logger.Warn("TTL refresh failed", zap.Error(err))
			}
		case <-c.stop:
			return
		}
	}
}

// lastSeen derives the freshness of an instance from the RFC 3339
// "last_refresh" entry of its service metadata, read when the service
// has a passing check; otherwise it falls back to now.
func lastSeen(entry *api.ServiceEntry) time.Time {
	for _, check := range entry.Checks {
		if check.ServiceID == entry.Service.ID && check.Status == api.HealthPassing {
			if ts, ok := entry.Service.Meta["last_refresh"]; ok {
				if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
					return parsed
				}
			}
		}
	}
	return time.Now()
}
