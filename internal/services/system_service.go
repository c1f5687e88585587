package services

import (
	"context"
	"errors"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/repositories"
)

// SystemServiceDeps bundles collaborators required to construct the system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
}

type systemService struct {
	health repositories.HealthRepository
}

// NewSystemService wires dependencies into a concrete SystemService implementation.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	return &systemService{health: deps.Health}, nil
}

func (s *systemService) Health(ctx context.Context) (domain.SystemHealthReport, error) {
	return s.health.Collect(ctx)
}
