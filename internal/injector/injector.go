//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/scenesync/scenesync/internal/core/catalog"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/server"
)

// ProvideLogger yields the process-wide logger.
func ProvideLogger() *log.Logger {
	wire.Build(log.Provide)
	return log.New(log.LevelInfo)
}

// ProvideSession assembles a replica session from a config and a loaded
// prefab catalog.
func ProvideSession(cfg server.Config, cat *catalog.Catalog) (*server.Session, error) {
	wire.Build(
		log.Provide,
		wire.Bind(new(log.Log), new(*log.Logger)),
		server.NewSession,
	)
	return nil, nil
}
