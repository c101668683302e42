package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/config"
	"github.com/smallbiznis/tumblebus/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
	paymentservice "github.com/smallbiznis/tumblebus/internal/payment/service"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
	Cfg        config.Config
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
	configs    map[string]map[string]any
}

func NewService(p Params) paymentdomain.Service {
	s := &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		configs:    providerConfigs(p.Cfg),
	}
	for _, provider := range s.adapters.Providers() {
		if _, ok := s.configs[provider]; !ok {
			s.log.Info("payment webhooks disabled, no credentials", zap.String("provider", provider))
		}
	}
	return s
}

// providerConfigs lists the providers whose webhook credentials are set.
func providerConfigs(cfg config.Config) map[string]map[string]any {
	out := map[string]map[string]any{}
	if secret := strings.TrimSpace(cfg.Stripe.WebhookSecret); secret != "" {
		out["stripe"] = map[string]any{"webhook_secret": secret}
	}
	if cfg.Braintree.PublicKey != "" && cfg.Braintree.PrivateKey != "" {
		out["braintree"] = map[string]any{
			"public_key":  cfg.Braintree.PublicKey,
			"private_key": cfg.Braintree.PrivateKey,
		}
	}
	return out
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !s.adapters.Supports(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if len(payload) == 0 {
		return paymentdomain.ErrInvalidPayload
	}

	settings, ok := s.configs[provider]
	if !ok {
		return paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.Adapter(provider, settings)
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	if s.paymentSvc == nil {
		return errors.New("payment_service_unavailable")
	}
	err = s.paymentSvc.ProcessEvent(ctx, event, payload)
	if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		s.log.Debug("duplicate payment webhook",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}
	return err
}
