//go:build !linux && !darwin

package platform

import "context"

var _ Platform = unsupportedPlatform{}

// unsupportedPlatform reports no processes, so every poll yields an empty result.
type unsupportedPlatform struct{}

func init() { P = unsupportedPlatform{} }

func (unsupportedPlatform) ListProcesses() ([]Process, error) { return nil, nil }

func (unsupportedPlatform) ListOpenFiles(context.Context, int) []string { return nil }
