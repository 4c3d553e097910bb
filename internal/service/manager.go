package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// Manager manages the lifecycle of all services
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	statusMu    sync.RWMutex // guards statuses only
	eventBus    *EventBus
	mu          sync.RWMutex
	startOrder  []string // Track service start order for proper shutdown
	stopTimeout time.Duration
}

// Service represents a service that can be started and stopped.
// Start must not block; long-running work belongs in a goroutine.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		services:    make([]Service, 0),
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(100),
		startOrder:  make([]string, 0),
		stopTimeout: 10 * time.Second,
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager. Services start in
// registration order and stop in reverse.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)

	m.statusMu.Lock()
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())
	m.statusMu.Unlock()

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts all registered services in order. If one fails, the ones
// already started are stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))

	m.startEventMonitoring(ctx)

	for _, svc := range m.services {
		status := m.GetServiceStatus(svc.Name())
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start",
				"service", svc.Name(),
				"error", err,
			)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data: map[string]interface{}{
					"error": err.Error(),
				},
			})
			m.stopStarted(ctx)
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}

		m.startOrder = append(m.startOrder, svc.Name())
		status.SetStatus(StatusRunning)
		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data: map[string]interface{}{
				"service": svc.Name(),
			},
		})
	}

	return nil
}

// startEventMonitoring logs every event at debug level
func (m *Manager) startEventMonitoring(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown gracefully shuts down all services. On timeout the remaining
// stops keep running in the background on their own copy of the start order.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := m.takeStarted()
	m.logger.Info("Shutting down services", "count", len(started))
	defer m.eventBus.Close()

	done := make(chan struct{})
	go func() {
		m.stopServices(ctx, started)
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// stopStarted stops started services in reverse start order.
// Callers hold m.mu.
func (m *Manager) stopStarted(ctx context.Context) {
	m.stopServices(ctx, m.takeStarted())
}

// takeStarted returns the started services in start order and clears the
// record. Callers hold m.mu.
func (m *Manager) takeStarted() []Service {
	started := make([]Service, 0, len(m.startOrder))
	for _, name := range m.startOrder {
		if svc := m.lookup(name); svc != nil {
			started = append(started, svc)
		}
	}
	m.startOrder = m.startOrder[:0]
	return started
}

// stopServices stops services in reverse order. It touches no Manager
// fields other than the lock-guarded statuses and the event bus.
func (m *Manager) stopServices(ctx context.Context, started []Service) {
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		name := svc.Name()
		status := m.GetServiceStatus(name)

		status.SetStatus(StatusStopping)
		m.logger.Info("Stopping service", "service", name)

		stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
		if err := svc.Stop(stopCtx); err != nil {
			status.SetError(err)
			m.logger.Error("Error stopping service",
				"service", name,
				"error", err,
			)
		} else {
			status.SetStatus(StatusStopped)
			m.logger.Info("Service stopped", "service", name)
		}
		cancel()

		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStopped,
			Source: "manager",
			Data: map[string]interface{}{
				"service": name,
			},
		})
	}
}

func (m *Manager) lookup(name string) Service {
	for _, s := range m.services {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
