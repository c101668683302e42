package enrollment

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/tumblebus/internal/enrollment/repository"
	"github.com/smallbiznis/tumblebus/internal/enrollment/service"
)

var Module = fx.Module("enrollment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
