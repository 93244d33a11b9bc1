package gateway

import (
	"sort"

	"loyalty-wallet-service/config"
	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/pkg/apperror"
)

// registry implements ports.GatewayRegistry over the static gateway catalog
// loaded from configuration. The catalog is immutable after construction.
type registry struct {
	configs map[domain.PaymentMethod]ports.GatewayConfig
	ordered []ports.GatewayConfig
}

// NewRegistry builds a registry from the configured gateway catalog.
func NewRegistry(gateways map[string]config.GatewayConfig) ports.GatewayRegistry {
	configs := make(map[domain.PaymentMethod]ports.GatewayConfig, len(gateways))
	for method, gc := range gateways {
		m := domain.PaymentMethod(method)
		configs[m] = ports.GatewayConfig{
			Method:      m,
			DisplayName: gc.DisplayName,
			Endpoint:    gc.APIURL,
			MerchantID:  gc.MerchantID,
			APIKey:      gc.APIKey,
			SecretKey:   gc.SecretKey,
			MinAmount:   gc.MinAmount,
			MaxAmount:   gc.MaxAmount,
			FeePercent:  gc.CommissionRate,
		}
	}

	ordered := make([]ports.GatewayConfig, 0, len(configs))
	for _, cfg := range configs {
		ordered = append(ordered, cfg)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Method < ordered[j].Method
	})

	return &registry{configs: configs, ordered: ordered}
}

func (r *registry) Resolve(method domain.PaymentMethod) (ports.GatewayConfig, error) {
	cfg, ok := r.configs[method]
	if !ok {
		return ports.GatewayConfig{}, apperror.ErrUnsupportedMethod(string(method))
	}
	return cfg, nil
}

func (r *registry) ListSupported() []ports.GatewayConfig {
	out := make([]ports.GatewayConfig, len(r.ordered))
	copy(out, r.ordered)
	return out
}
