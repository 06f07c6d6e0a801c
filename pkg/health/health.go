package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"clinical-copilot/backend/pkg/logger"
	"clinical-copilot/backend/pkg/resilience"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func() (Status, string, error)

// Checker manages health checks for the system
type Checker struct {
	checks      map[string]Check
	components  map[string]*Component
	checkPeriod time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	checker := &Checker{
		checks:      make(map[string]Check),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		log:         log,
	}

	checker.RegisterCheck("self", func() (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a new health check
func (c *Checker) RegisterCheck(name string, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = check
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
		LastChecked: time.Time{},
	}
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for name, check := range c.checks {
		status, description, err := check()

		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()

		if err != nil {
			component.Error = err.Error()
			c.log.Error("Health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		} else {
			component.Error = ""
			c.log.Debug("Health check completed",
				"component", name,
				"status", string(status),
			)
		}
	}
}

// Start begins periodic health checks
func (c *Checker) Start() {
	go func() {
		// Run checks immediately at startup
		c.RunChecks()

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for range ticker.C {
			c.RunChecks()
		}
	}()
}

// GetStatus returns the current health status
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}

	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Status == StatusDown && c.isCriticalComponent(component.Name) {
			return false
		}
	}

	return true
}

// isCriticalComponent determines whether a component is critical for
// system operation. The evaluator and patient directory are not
// critical: the engine degrades gracefully when either is down.
func (c *Checker) isCriticalComponent(name string) bool {
	criticalComponents := map[string]bool{
		"object_store": true,
	}

	return criticalComponents[name]
}

// HTTPHandler returns an HTTP handler for health checks
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.GetStatus()

		w.Header().Set("Content-Type", "application/json")

		if !c.IsSystemHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		response := map[string]interface{}{
			"status":     "ok",
			"timestamp":  time.Now(),
			"components": status,
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			c.log.Error("Failed to encode health check response", "error", err.Error())
		}
	}
}

// RegisterStoreCheck registers the durable object store check
func (c *Checker) RegisterStoreCheck(ping func() error) {
	c.RegisterCheck("object_store", func() (Status, string, error) {
		if err := ping(); err != nil {
			return StatusDown, "Object store unreachable", err
		}
		return StatusUp, "Object store is reachable", nil
	})
}

// RegisterDirectoryCheck registers the patient directory database check
func (c *Checker) RegisterDirectoryCheck(ping func() error) {
	c.RegisterCheck("patient_directory", func() (Status, string, error) {
		if err := ping(); err != nil {
			return StatusDegraded, "Patient directory unreachable; lookups treated as unresolved", err
		}
		return StatusUp, "Patient directory connection is established", nil
	})
}

// RegisterEvaluatorCheck reports the guardrail circuit breaker state.
// An open circuit means evaluations are failing open, not that turns
// are failing.
func (c *Checker) RegisterEvaluatorCheck(breaker *resilience.CircuitBreaker) {
	c.RegisterCheck("content_evaluator", func() (Status, string, error) {
		switch breaker.GetState() {
		case resilience.StateOpen:
			return StatusDegraded, "Evaluator circuit open; evaluations failing open", nil
		case resilience.StateHalfOpen:
			return StatusDegraded, "Evaluator circuit recovering", nil
		default:
			return StatusUp, "Evaluator circuit closed", nil
		}
	})
}
