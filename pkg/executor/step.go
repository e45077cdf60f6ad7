package executor

import "context"

// FuncStep adapts a plain function to Step. It always runs.
type FuncStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// NewStep builds a FuncStep.
func NewStep(name string, run func(ctx context.Context) error) *FuncStep {
	return &FuncStep{Name: name, Run: run}
}

func (s *FuncStep) Execute(ctx context.Context) error {
	return s.Run(ctx)
}

func (s *FuncStep) IsCompleted(ctx context.Context) bool {
	return false
}

func (s *FuncStep) GetName() string {
	return s.Name
}
