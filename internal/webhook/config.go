package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/herald/internal/config"
)

// FromConfig converts the webhooks section of the service config.
func FromConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}

	cfg := Config{Listen: wc.Listen, Endpoints: make([]EndpointConfig, 0, len(wc.Endpoints))}
	for _, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		if ep.EventType == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no event_type configured", ep.Path)
		}
		size, err := parseSize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{
			Path:            ep.Path,
			EventType:       ep.EventType,
			Secret:          ep.Secret,
			SignatureHeader: header,
			MaxBodySize:     size,
		})
	}
	return cfg, nil
}

// parseSize accepts plain byte counts or KB/MB/GB suffixes.
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultMaxBodySize, nil
	}

	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if v > (1<<62)/mult {
		return 0, fmt.Errorf("size too large")
	}
	return v * mult, nil
}
