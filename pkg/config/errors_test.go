package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("tenant", "acme", "mode", ErrInvalidValue)
	assert.Contains(t, err.Error(), "tenant")
	assert.Contains(t, err.Error(), "acme")
	assert.Contains(t, err.Error(), "mode")
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestValidationError_Error_NoField(t *testing.T) {
	err := NewValidationError("tenant", "acme", "", ErrMissingRequiredField)
	assert.Equal(t, `tenant "acme": missing required field`, err.Error())
}

func TestLoadError_Error(t *testing.T) {
	err := NewLoadError("adengine.yaml", ErrConfigNotFound)
	assert.Contains(t, err.Error(), "adengine.yaml")
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
