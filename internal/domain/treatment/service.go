package treatment

import (
	"context"
	"strings"

	"github.com/odonto/payments/internal/platform/apperr"
)

type Service struct {
	treatments Repository
}

func NewService(treatments Repository) *Service {
	return &Service{treatments: treatments}
}

func validate(t *Treatment) error {
	if t.Name == "" {
		return apperr.Validation("name is required")
	}
	if !t.TotalCost.IsPositive() {
		return apperr.Validation("total_cost must be greater than 0")
	}
	return nil
}

func (s *Service) CreateTreatment(ctx context.Context, t *Treatment) error {
	t.Name = strings.TrimSpace(t.Name)
	if err := validate(t); err != nil {
		return err
	}
	return s.treatments.Create(ctx, t)
}

func (s *Service) GetTreatment(ctx context.Context, id int64) (*Treatment, error) {
	return s.treatments.GetByID(ctx, id)
}

func (s *Service) ListTreatments(ctx context.Context, limit, offset int) ([]*Treatment, int, error) {
	return s.treatments.List(ctx, limit, offset)
}

func (s *Service) UpdateTreatment(ctx context.Context, id int64, u TreatmentUpdate) (*Treatment, error) {
	t, err := s.treatments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		t.Name = strings.TrimSpace(*u.Name)
	}
	if u.TotalCost != nil {
		t.TotalCost = *u.TotalCost
	}
	if err := validate(t); err != nil {
		return nil, err
	}
	if err := s.treatments.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) DeleteTreatment(ctx context.Context, id int64) error {
	ok, err := s.treatments.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("treatment %d not found", id)
	}
	return nil
}
