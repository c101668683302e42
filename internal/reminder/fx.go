package reminder

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/tumblebus/internal/reminder/repository"
	"github.com/smallbiznis/tumblebus/internal/reminder/service"
)

var Module = fx.Module("reminder.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
