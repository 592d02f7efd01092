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

// Policy groups the business rules operators may tune without a redeploy.
type Policy struct {
	Lifecycle    LifecyclePolicy    `mapstructure:"lifecycle"`
	Verification VerificationPolicy `mapstructure:"verification"`
	Payments     PaymentPolicy      `mapstructure:"payments"`
	Invoices     InvoicePolicy      `mapstructure:"invoices"`
}

type LifecyclePolicy struct {
	CancellationWindow time.Duration `mapstructure:"cancellationWindow"`
}

type VerificationPolicy struct {
	OTPTTL         time.Duration `mapstructure:"otpTTL"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	ResendCooldown time.Duration `mapstructure:"resendCooldown"`
}

type PaymentPolicy struct {
	ProcessorTimeout time.Duration `mapstructure:"processorTimeout"`
}

type InvoicePolicy struct {
	// DueDays is added to the creation date to compute due_date.
	DueDays int `mapstructure:"dueDays"`
}

func DefaultPolicy() Policy {
	return Policy{
		Lifecycle: LifecyclePolicy{
			CancellationWindow: 24 * time.Hour,
		},
		Verification: VerificationPolicy{
			OTPTTL:         30 * time.Minute,
			MaxAttempts:    5,
			ResendCooldown: 60 * time.Second,
		},
		Payments: PaymentPolicy{
			ProcessorTimeout: 20 * time.Second,
		},
		Invoices: InvoicePolicy{
			DueDays: 0,
		},
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/appointly")
	v.AddConfigPath(".")

	v.SetEnvPrefix("APPOINTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("policy.lifecycle.cancellationWindow", defaults.Lifecycle.CancellationWindow.String())
	v.SetDefault("policy.verification.otpTTL", defaults.Verification.OTPTTL.String())
	v.SetDefault("policy.verification.maxAttempts", defaults.Verification.MaxAttempts)
	v.SetDefault("policy.verification.resendCooldown", defaults.Verification.ResendCooldown.String())
	v.SetDefault("policy.payments.processorTimeout", defaults.Payments.ProcessorTimeout.String())
	v.SetDefault("policy.invoices.dueDays", defaults.Invoices.DueDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var p Policy
	if err := v.UnmarshalKey("policy", &p); err != nil {
		return nil, err
	}
	if err := validatePolicy(p); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(p)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated Policy
			if err := v.UnmarshalKey("policy", &updated); err != nil {
				log.Printf("[policy] reload failed: %v", err)
				return
			}
			if err := validatePolicy(updated); err != nil {
				log.Printf("[policy] invalid policy ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[policy] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	p, ok := h.current.Load().(Policy)
	if !ok {
		return DefaultPolicy()
	}
	return p
}

func validatePolicy(p Policy) error {
	if p.Lifecycle.CancellationWindow < 0 {
		return errors.New("policy.lifecycle.cancellationWindow cannot be negative")
	}
	if p.Verification.OTPTTL <= 0 {
		return errors.New("policy.verification.otpTTL must be positive")
	}
	if p.Verification.MaxAttempts <= 0 {
		return errors.New("policy.verification.maxAttempts must be positive")
	}
	if p.Verification.ResendCooldown < 0 {
		return errors.New("policy.verification.resendCooldown cannot be negative")
	}
	if p.Payments.ProcessorTimeout <= 0 {
		return errors.New("policy.payments.processorTimeout must be positive")
	}
	if p.Invoices.DueDays < 0 {
		return errors.New("policy.invoices.dueDays cannot be negative")
	}
	return nil
}
