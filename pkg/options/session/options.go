// Package session provides session store configuration options.
package session

import (
	"fmt"
	"time"

	"github.com/kart-io/docuchat/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains session lifecycle configuration.
type Options struct {
	// TTL 会话空闲过期时长。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// SweepInterval 后台清理的执行间隔。
	SweepInterval time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		TTL:           2 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// AddFlags adds flags for session options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.DurationVar(&o.TTL, p+"session.ttl", o.TTL, "Idle duration after which a session expires.")
	fs.DurationVar(&o.SweepInterval, p+"session.sweep-interval", o.SweepInterval, "Interval between background expiry sweeps.")
}

// Validate validates the session options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl must be positive"))
	}
	if o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.sweep-interval must be positive"))
	}
	return errs
}

// Complete completes the session options with defaults.
func (o *Options) Complete() error {
	return nil
}
