package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig carries marketplace-wide defaults applied when a site does
// not override prices. Amounts are integer cents.
type PricingConfig struct {
	LinkPriceCents    int64         `mapstructure:"linkPriceCents"`
	ArticlePriceCents int64         `mapstructure:"articlePriceCents"`
	PlacementTerm     time.Duration `mapstructure:"placementTerm"`
	RenewalLeadTime   time.Duration `mapstructure:"renewalLeadTime"`
	SlotPriceCents    int64         `mapstructure:"slotPriceCents"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		LinkPriceCents:    2_500,
		ArticlePriceCents: 5_000,
		PlacementTerm:     30 * 24 * time.Hour,
		RenewalLeadTime:   3 * 24 * time.Hour,
		SlotPriceCents:    1_000,
	}
}

// PricingConfigHolder serves the current pricing config and hot-reloads it
// when the backing file changes.
type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/linkrent/config")
	v.AddConfigPath("/etc/linkrent")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LINKRENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingConfig()
	v.SetDefault("pricing.linkPriceCents", defaults.LinkPriceCents)
	v.SetDefault("pricing.articlePriceCents", defaults.ArticlePriceCents)
	v.SetDefault("pricing.placementTerm", defaults.PlacementTerm)
	v.SetDefault("pricing.renewalLeadTime", defaults.RenewalLeadTime)
	v.SetDefault("pricing.slotPriceCents", defaults.SlotPriceCents)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PricingConfig
			if err := v.UnmarshalKey("pricing", &updated); err != nil {
				log.Printf("[pricing-config] reload failed: %v", err)
				return
			}
			if err := validatePricingConfig(updated); err != nil {
				log.Printf("[pricing-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[pricing-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticPricingConfigHolder returns a holder pinned to cfg, for tests and
// embedded use.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.LinkPriceCents <= 0 || cfg.ArticlePriceCents <= 0 || cfg.SlotPriceCents <= 0 {
		return errors.New("pricing: prices must be positive")
	}
	if cfg.PlacementTerm <= 0 {
		return errors.New("pricing: placementTerm must be positive")
	}
	return nil
}
