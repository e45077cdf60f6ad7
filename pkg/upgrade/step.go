package upgrade

import (
	"context"
	"fmt"
	"strings"

	"go.goms.io/aio/lifecycle/pkg/executor"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
)

// transientStates are provisioning states in which the extension must not be patched.
var transientStates = map[string]bool{
	"creating": true,
	"updating": true,
	"deleting": true,
	"accepted": true,
}

var _ executor.ValidatingStep = (*extensionStep)(nil)

// extensionStep patches one extension. The extension is re-read before the patch: a record that
// already carries every planned change is skipped, and one with an operation in flight is refused.
type extensionStep struct {
	state   *ExtensionUpgradeState
	patcher mgmt.ResourceAPI

	current *mgmt.Extension
	readErr error
}

func (s *extensionStep) GetName() string {
	return "upgrade-" + s.state.Moniker
}

func (s *extensionStep) refresh(ctx context.Context) {
	s.current, s.readErr = nil, nil
	r, err := s.patcher.Get(ctx, s.state.Extension.ID, mgmt.ExtensionAPIVersion)
	if err != nil {
		s.readErr = fmt.Errorf("failed to read extension %s: %w", s.state.Extension.Name, err)
		return
	}
	s.current, s.readErr = mgmt.DecodeExtension(r)
}

// IsCompleted reports whether someone else applied the plan since it was analyzed. An extension
// that already matched at analysis time, such as a forced version, is never skipped.
func (s *extensionStep) IsCompleted(ctx context.Context) bool {
	s.refresh(ctx)
	if s.readErr != nil {
		return false
	}
	return !s.state.appliedTo(s.state.Extension) && s.state.appliedTo(s.current)
}

// Validate surfaces the read failure from IsCompleted and refuses extensions mid-operation.
func (s *extensionStep) Validate(ctx context.Context) error {
	if s.current == nil && s.readErr == nil {
		s.refresh(ctx)
	}
	if s.readErr != nil {
		return s.readErr
	}
	if state := s.current.Properties.ProvisioningState; transientStates[strings.ToLower(state)] {
		return opserr.New(opserr.KindInvalidState,
			"extension %s is %s; rerun the upgrade once that operation finishes", s.state.Extension.Name, state)
	}
	return nil
}

func (s *extensionStep) Execute(ctx context.Context) error {
	if _, err := s.patcher.Update(ctx, s.state.Extension.ID, mgmt.ExtensionAPIVersion, s.state.Patch()); err != nil {
		return fmt.Errorf("failed to patch extension %s: %w", s.state.Extension.Name, err)
	}
	return nil
}

// appliedTo reports whether ext already carries the target version, train and configuration.
func (s *ExtensionUpgradeState) appliedTo(ext *mgmt.Extension) bool {
	if v := s.TargetVersion(); v != "" && !strings.EqualFold(v, ext.Properties.Version) {
		return false
	}
	if t := s.TargetTrain(); t != "" && !strings.EqualFold(t, ext.Properties.ReleaseTrain) {
		return false
	}
	for k, want := range s.ConfigurationSettings() {
		got, ok := ext.Properties.ConfigurationSettings[k]
		if want == nil {
			if ok {
				return false
			}
			continue
		}
		if !ok || got != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
