package services

import (
	"context"

	"plangate/pkg/models"
)

// Validator validates execution plans, either in-process or against a remote gate.
type Validator interface {
	// Validate returns the gate's verdict on plan.
	Validate(ctx context.Context, plan *models.ExecutionPlan) (*models.ValidationResult, error)
}
