package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateTask checks a claimed LLM task's configuration before launch.
// A failure here marks the task failed without starting the runner.
func ValidateTask(t Task) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("op=domain.ValidateTask: %w: %w", ErrInvalidArgument, err)
	}
	return nil
}

// ValidateCommonTask checks a claimed common task's configuration.
func ValidateCommonTask(t CommonTask) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("op=domain.ValidateCommonTask: %w: %w", ErrInvalidArgument, err)
	}
	if t.LoadMode != LoadModeStepped && t.ConcurrentUsers < 1 {
		return fmt.Errorf("op=domain.ValidateCommonTask: %w: concurrent_users must be >= 1 in fixed mode", ErrInvalidArgument)
	}
	return nil
}
