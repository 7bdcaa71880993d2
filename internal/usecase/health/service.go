package health

import (
	"context"
	"sort"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the library cannot serve queries.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status      Status
	Checks      map[string]CheckResult
	LibrarySize int
}

// Service coordinates health checks.
type Service struct {
	db         DBPinger
	library    LibraryReader
	embedders  map[string]EmbeddingChecker
	spaceNames []string
}

// New creates a Service. embedders maps space names to checkers and can be nil.
func New(db DBPinger, library LibraryReader, embedders map[string]EmbeddingChecker) *Service {
	names := make([]string, 0, len(embedders))
	for name := range embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Service{db: db, library: library, embedders: embedders, spaceNames: names}
}

// Check runs health checks against all components. An empty or missing
// library is Unhealthy; any other failing check is Degraded.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
		status = Degraded
	} else {
		checks["database"] = CheckOK
	}

	for _, name := range s.spaceNames {
		key := "embedding:" + name
		if err := s.embedders[name].HealthCheck(ctx); err != nil {
			checks[key] = CheckError
			status = Degraded
		} else {
			checks[key] = CheckOK
		}
	}

	size := 0
	if s.library != nil {
		size = s.library.Len()
	}
	if size == 0 {
		checks["library"] = CheckError
		status = Unhealthy
	} else {
		checks["library"] = CheckOK
	}

	return Report{Status: status, Checks: checks, LibrarySize: size}
}
