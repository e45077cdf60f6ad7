package compat

import (
	"github.com/Masterminds/semver/v3"

	"go.goms.io/aio/lifecycle/pkg/opserr"
)

const (
	// MinVersion is the oldest instance version the lifecycle engines accept.
	MinVersion = "1.0.44"
	// MaxVersion is the first instance version the lifecycle engines no longer accept.
	MaxVersion = "1.2.0"
	// PivotVersion splits the two pinned resource api-versions.
	PivotVersion = "1.1.0"

	// LegacyAPIVersion applies to instances below PivotVersion.
	LegacyAPIVersion = "2024-11-01"
	// CurrentAPIVersion applies to instances at or above PivotVersion.
	CurrentAPIVersion = "2025-04-01"
)

var (
	minVersion   = semver.MustParse(MinVersion)
	maxVersion   = semver.MustParse(MaxVersion)
	pivotVersion = semver.MustParse(PivotVersion)
)

// ParseVersion parses an installed instance version.
func ParseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, opserr.Wrap(opserr.KindIncompatible, err, "unable to parse instance version %q", version)
	}
	return v, nil
}

// EnsureCompatible fails with Incompatible unless MinVersion <= version < MaxVersion.
// force skips the check entirely.
func EnsureCompatible(version string, force bool) error {
	if force {
		return nil
	}
	v, err := ParseVersion(version)
	if err != nil {
		return err
	}
	if v.LessThan(minVersion) || !v.LessThan(maxVersion) {
		return opserr.New(opserr.KindIncompatible,
			"instance version %s is not supported; supported versions are >=%s and <%s", version, MinVersion, MaxVersion)
	}
	return nil
}

// IsCompatible reports whether version is inside the supported window.
func IsCompatible(version string) bool {
	return EnsureCompatible(version, false) == nil
}

// APIVersionFor returns the resource api-version to use for writes against an instance.
// Unparseable versions fall back to the current api-version.
func APIVersionFor(version string) string {
	v, err := semver.NewVersion(version)
	if err != nil {
		return CurrentAPIVersion
	}
	if v.LessThan(pivotVersion) {
		return LegacyAPIVersion
	}
	return CurrentAPIVersion
}
