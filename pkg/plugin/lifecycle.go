// Package plugin defines the collaborator interfaces the dissector consumes.
package plugin

import "context"

// Plugin is the base interface for long-lived pluggable components.
type Plugin interface {
	Name() string
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
