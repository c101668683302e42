package audit

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/tumblebus/internal/audit/repository"
	"github.com/smallbiznis/tumblebus/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
