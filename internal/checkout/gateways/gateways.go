// Package gateways selects the configured checkout gateway.
package gateways

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/checkout"
	"github.com/smallbiznis/tumblebus/internal/checkout/braintree"
	"github.com/smallbiznis/tumblebus/internal/checkout/stripe"
	"github.com/smallbiznis/tumblebus/internal/config"
)

var Module = fx.Module("checkout.gateway",
	fx.Provide(New),
)

func New(cfg config.Config, log *zap.Logger) (checkout.Gateway, error) {
	var (
		gw  checkout.Gateway
		err error
	)
	switch cfg.PaymentProvider {
	case "", checkout.ProviderManual:
		gw = checkout.NewManual()
	case checkout.ProviderStripe:
		gw, err = stripe.New(stripe.Config{SecretKey: cfg.Stripe.SecretKey, BaseURL: cfg.Stripe.BaseURL})
	case checkout.ProviderBraintree:
		gw, err = braintree.New(braintree.Config{
			Environment: cfg.Braintree.Environment,
			MerchantID:  cfg.Braintree.MerchantID,
			PublicKey:   cfg.Braintree.PublicKey,
			PrivateKey:  cfg.Braintree.PrivateKey,
		})
	default:
		return nil, fmt.Errorf("%w: %s", checkout.ErrUnknownProvider, cfg.PaymentProvider)
	}
	if err != nil {
		return nil, err
	}
	log.Info("checkout gateway configured", zap.String("provider", gw.Provider()))
	return gw, nil
}
