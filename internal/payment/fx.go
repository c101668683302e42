package payment

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/tumblebus/internal/payment/adapters"
	"github.com/smallbiznis/tumblebus/internal/payment/adapters/braintree"
	"github.com/smallbiznis/tumblebus/internal/payment/adapters/stripe"
	"github.com/smallbiznis/tumblebus/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tumblebus/internal/payment/service"
	"github.com/smallbiznis/tumblebus/internal/payment/webhook"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			braintree.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
