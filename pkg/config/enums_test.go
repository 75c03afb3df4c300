package config

import "testing"

func TestMode_IsValid(t *testing.T) {
	valid := []Mode{ModeDirect, ModePipeline}
	for _, m := range valid {
		if !m.IsValid() {
			t.Errorf("expected %q to be valid", m)
		}
	}
	if Mode("bogus").IsValid() {
		t.Error("expected bogus mode to be invalid")
	}
}

func TestBaselineStrategy_IsValid(t *testing.T) {
	if !BaselineAccountMean.IsValid() {
		t.Error("expected account_mean to be valid")
	}
	if BaselineStrategy("median").IsValid() {
		t.Error("expected median to be invalid (not yet implemented)")
	}
}
