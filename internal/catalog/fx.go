package catalog

import (
	"github.com/smallbiznis/tumblebus/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("catalog",
	fx.Provide(func(cfg config.Config, log *zap.Logger) (*Holder, error) {
		return LoadHolder(cfg.CatalogPath, log)
	}),
)
