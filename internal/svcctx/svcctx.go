// Package svcctx carries the server's long-lived services on the request
// context. It sits below both server and endpoints so neither imports the
// other.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/castwright/internal/config"
	"github.com/jackzampolin/castwright/internal/home"
	"github.com/jackzampolin/castwright/internal/podcast"
	"github.com/jackzampolin/castwright/internal/workflow"
)

// Services is built once by serve. Any field may be nil while the server is
// only partly wired, so every accessor tolerates a missing value.
type Services struct {
	Pipeline  *podcast.Service
	Runner    *workflow.Runner
	ConfigMgr *config.Manager
	Home      *home.Dir
	Logger    *slog.Logger
}

type servicesKey struct{}

func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom returns nil outside a server request.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

func from[T any](ctx context.Context, get func(*Services) T) T {
	var zero T
	s := ServicesFrom(ctx)
	if s == nil {
		return zero
	}
	return get(s)
}

func PipelineFrom(ctx context.Context) *podcast.Service {
	return from(ctx, func(s *Services) *podcast.Service { return s.Pipeline })
}

func RunnerFrom(ctx context.Context) *workflow.Runner {
	return from(ctx, func(s *Services) *workflow.Runner { return s.Runner })
}

func ConfigFrom(ctx context.Context) *config.Manager {
	return from(ctx, func(s *Services) *config.Manager { return s.ConfigMgr })
}

func HomeFrom(ctx context.Context) *home.Dir {
	return from(ctx, func(s *Services) *home.Dir { return s.Home })
}

// LoggerFrom falls back to slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l := from(ctx, func(s *Services) *slog.Logger { return s.Logger }); l != nil {
		return l
	}
	return slog.Default()
}
