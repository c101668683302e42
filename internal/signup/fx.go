package signup

import (
	"github.com/smallbiznis/tumblebus/internal/catalog"
	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	"github.com/smallbiznis/tumblebus/internal/signup/service"
	"github.com/smallbiznis/tumblebus/internal/signup/store"
	"github.com/smallbiznis/tumblebus/internal/wizard"
	"go.uber.org/fx"
)

var Module = fx.Module("signup.service",
	fx.Provide(NewEngine),
	fx.Provide(store.New),
	fx.Provide(service.New),
)

// NewEngine builds the wizard from WIZARD_STEPS over the live catalog.
func NewEngine(cfg config.Config, holder *catalog.Holder, clk clock.Clock) (*wizard.Engine, error) {
	steps, err := wizard.ParseSteps(cfg.WizardSteps)
	if err != nil {
		return nil, err
	}
	return wizard.New(holder, clk, steps...)
}
