package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuiltinConfig_IsSingleton(t *testing.T) {
	a := GetBuiltinConfig()
	b := GetBuiltinConfig()
	assert.Same(t, a, b)
}

func TestGetBuiltinConfig_DefaultTenantHasFullFunnel(t *testing.T) {
	builtin := GetBuiltinConfig()

	for _, stage := range builtin.DefaultTenant.FunnelOrder {
		_, ok := builtin.DefaultTenant.Stages[stage]
		assert.True(t, ok, "funnel_order stage %q must exist in Stages", stage)
	}
	assert.Equal(t, ModeDirect, builtin.DefaultTenant.Mode)
}
