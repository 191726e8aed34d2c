package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the result of a health check.
type HealthCheckResult struct {
	Name     string
	Status   HealthStatus
	Message  string
	Duration time.Duration
}

// HealthChecker performs one check.
type HealthChecker func(ctx context.Context) HealthCheckResult

// HealthRegistry runs named checks concurrently.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthRegistry creates a new health registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]HealthChecker)}
}

// Register adds a health checker for a component.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check runs all checks and returns results sorted by name.
func (r *HealthRegistry) Check(ctx context.Context) []HealthCheckResult {
	r.mu.RLock()
	checkers := make(map[string]HealthChecker, len(r.checkers))
	for k, v := range r.checkers {
		checkers[k] = v
	}
	r.mu.RUnlock()

	results := make([]HealthCheckResult, 0, len(checkers))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			start := time.Now()
			result := checker(ctx)
			result.Name = name
			result.Duration = time.Since(start)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// OverallStatus folds results into the worst status.
func OverallStatus(results []HealthCheckResult) HealthStatus {
	status := HealthStatusHealthy
	for _, result := range results {
		switch result.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// PingChecker reports unhealthy when ping fails.
func PingChecker(component string, ping func(ctx context.Context) error) HealthChecker {
	return pingChecker(component, HealthStatusUnhealthy, ping)
}

// OptionalPingChecker reports degraded when ping fails, for components a
// run can complete without.
func OptionalPingChecker(component string, ping func(ctx context.Context) error) HealthChecker {
	return pingChecker(component, HealthStatusDegraded, ping)
}

func pingChecker(component string, onFailure HealthStatus, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := ping(ctx); err != nil {
			return HealthCheckResult{
				Status:  onFailure,
				Message: component + " check failed: " + err.Error(),
			}
		}
		return HealthCheckResult{
			Status:  HealthStatusHealthy,
			Message: component + " ok",
		}
	}
}
