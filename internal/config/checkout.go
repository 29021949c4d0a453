package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CheckoutConfig holds checkout tunables that can change without a restart.
type CheckoutConfig struct {
	DownloadWindow   time.Duration  `mapstructure:"downloadWindow"`
	LicensePrefix    string         `mapstructure:"licensePrefix"`
	LicensedTypes    []string       `mapstructure:"licensedTypes"`
	InvoicePrefix    string         `mapstructure:"invoicePrefix"`
	CurrencyExponent map[string]int    `mapstructure:"currencyExponent"`
	DefaultCurrency  string            `mapstructure:"defaultCurrency"`
	Coupons          map[string]Coupon `mapstructure:"coupons"`
}

// Coupon is a discount rule keyed by its upper-cased code. Exactly one of
// PercentOff or AmountOff is set; AmountOff is in minor units of Currency.
type Coupon struct {
	PercentOff int64  `mapstructure:"percentOff"`
	AmountOff  int64  `mapstructure:"amountOff"`
	Currency   string `mapstructure:"currency"`
}

func DefaultCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		DownloadWindow:  7 * 24 * time.Hour,
		LicensePrefix:   "LIC",
		LicensedTypes:   []string{"personal", "commercial", "extended"},
		InvoicePrefix:   "INV",
		DefaultCurrency: "INR",
	}
}

// IsLicensed reports whether a license key is issued for the given license type.
func (c CheckoutConfig) IsLicensed(licenseType string) bool {
	licenseType = strings.ToLower(strings.TrimSpace(licenseType))
	if licenseType == "" {
		return false
	}
	for _, t := range c.LicensedTypes {
		if strings.EqualFold(t, licenseType) {
			return true
		}
	}
	return false
}

// checkoutFile unmarshals from AllSettings so defaults merge per leaf key.
type checkoutFile struct {
	Checkout CheckoutConfig `mapstructure:"checkout"`
}

type CheckoutConfigHolder struct {
	current atomic.Value // holds CheckoutConfig
}

// NewStaticCheckoutConfigHolder returns a holder that never reloads.
func NewStaticCheckoutConfigHolder(cfg CheckoutConfig) *CheckoutConfigHolder {
	holder := &CheckoutConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewCheckoutConfigHolder reads checkout.yml from /etc/storefront or the
// working directory and watches it when present.
func NewCheckoutConfigHolder(log *zap.Logger) (*CheckoutConfigHolder, error) {
	return newCheckoutConfigHolder(log, "/etc/storefront", ".")
}

func newCheckoutConfigHolder(log *zap.Logger, paths ...string) (*CheckoutConfigHolder, error) {
	log = log.Named("checkout.config")
	v := viper.New()

	v.SetConfigName("checkout")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCheckoutConfig()
	v.SetDefault("checkout.downloadWindow", defaults.DownloadWindow)
	v.SetDefault("checkout.licensePrefix", defaults.LicensePrefix)
	v.SetDefault("checkout.licensedTypes", defaults.LicensedTypes)
	v.SetDefault("checkout.invoicePrefix", defaults.InvoicePrefix)
	v.SetDefault("checkout.defaultCurrency", defaults.DefaultCurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var raw checkoutFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, err
	}
	cfg, err := normalizeCheckoutConfig(raw.Checkout)
	if err != nil {
		return nil, err
	}

	holder := NewStaticCheckoutConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var raw checkoutFile
		if err := v.Unmarshal(&raw); err != nil {
			log.Warn("checkout config reload failed", zap.Error(err))
			return
		}
		updated, err := normalizeCheckoutConfig(raw.Checkout)
		if err != nil {
			log.Warn("invalid checkout config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("checkout config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CheckoutConfigHolder) Get() CheckoutConfig {
	return h.current.Load().(CheckoutConfig)
}

// normalizeCheckoutConfig validates cfg and upper-cases currency codes,
// which viper lower-cases as map keys.
func normalizeCheckoutConfig(cfg CheckoutConfig) (CheckoutConfig, error) {
	if cfg.DownloadWindow <= 0 {
		return cfg, errors.New("checkout.downloadWindow must be positive")
	}
	cfg.LicensePrefix = strings.TrimSpace(cfg.LicensePrefix)
	if cfg.LicensePrefix == "" {
		return cfg, errors.New("checkout.licensePrefix cannot be empty")
	}
	if strings.TrimSpace(cfg.InvoicePrefix) == "" {
		cfg.InvoicePrefix = "INV"
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if len(cfg.DefaultCurrency) != 3 {
		return cfg, errors.New("checkout.defaultCurrency must be an ISO 4217 code")
	}

	exponents := make(map[string]int, len(cfg.CurrencyExponent))
	for code, exp := range cfg.CurrencyExponent {
		if exp < 0 || exp > 4 {
			return cfg, errors.New("checkout.currencyExponent out of range for " + code)
		}
		exponents[strings.ToUpper(strings.TrimSpace(code))] = exp
	}
	cfg.CurrencyExponent = exponents

	coupons := make(map[string]Coupon, len(cfg.Coupons))
	for code, coupon := range cfg.Coupons {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return cfg, errors.New("checkout.coupons has an empty code")
		}
		if (coupon.PercentOff > 0) == (coupon.AmountOff > 0) || coupon.PercentOff < 0 || coupon.AmountOff < 0 {
			return cfg, errors.New("checkout.coupons." + code + " needs exactly one of percentOff or amountOff")
		}
		if coupon.PercentOff > 100 {
			return cfg, errors.New("checkout.coupons." + code + " percentOff above 100")
		}
		coupon.Currency = strings.ToUpper(strings.TrimSpace(coupon.Currency))
		if coupon.AmountOff > 0 && len(coupon.Currency) != 3 {
			return cfg, errors.New("checkout.coupons." + code + " amountOff needs a currency")
		}
		coupons[code] = coupon
	}
	cfg.Coupons = coupons
	return cfg, nil
}

// Coupon looks up a rule by code, ignoring case.
func (c CheckoutConfig) Coupon(code string) (Coupon, bool) {
	coupon, ok := c.Coupons[strings.ToUpper(strings.TrimSpace(code))]
	return coupon, ok
}
