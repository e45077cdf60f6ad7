package compat

import (
	"testing"

	"go.goms.io/aio/lifecycle/pkg/opserr"
)

func TestEnsureCompatible(t *testing.T) {
	tests := []struct {
		name    string
		version string
		force   bool
		wantErr bool
	}{
		{"lower bound is inclusive", "1.0.44", false, false},
		{"inside window", "1.0.50", false, false},
		{"just under max", "1.1.99", false, false},
		{"upper bound is exclusive", "1.2.0", false, true},
		{"below min", "0.9.0", false, true},
		{"forced below min", "0.9.0", true, false},
		{"prerelease of min sorts below it", "1.0.44-preview", false, true},
		{"garbage", "not-a-version", false, true},
		{"forced garbage", "not-a-version", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsureCompatible(tt.version, tt.force)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EnsureCompatible(%q, %v) error = %v, wantErr %v", tt.version, tt.force, err, tt.wantErr)
			}
			if err != nil && !opserr.Is(err, opserr.KindIncompatible) {
				t.Errorf("expected Incompatible kind, got %v", err)
			}
		})
	}
}

func TestAPIVersionFor(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"1.0.44", LegacyAPIVersion},
		{"1.0.99", LegacyAPIVersion},
		{"1.1.0", CurrentAPIVersion},
		{"1.1.5", CurrentAPIVersion},
		{"garbage", CurrentAPIVersion},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			if got := APIVersionFor(tt.version); got != tt.want {
				t.Errorf("APIVersionFor(%q) = %s, want %s", tt.version, got, tt.want)
			}
		})
	}
}

func TestIsCompatible(t *testing.T) {
	if !IsCompatible("1.0.50") {
		t.Errorf("expected 1.0.50 to be compatible")
	}
	if IsCompatible("1.2.1") {
		t.Errorf("expected 1.2.1 to be incompatible")
	}
}
