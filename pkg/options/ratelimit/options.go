// Package ratelimit provides rate limiter configuration options.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/kart-io/docuchat/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains per-route-group rate limiting configuration.
// 上传接口消耗大（解析 + 向量化），限额比查询接口严格。
type Options struct {
	// Backend 限流后端（memory|redis）。
	Backend string `json:"backend" mapstructure:"backend"`

	// UploadLimit 上传接口窗口内最大请求数。
	UploadLimit int `json:"upload-limit" mapstructure:"upload-limit"`

	// UploadWindow 上传接口滑动窗口长度。
	UploadWindow time.Duration `json:"upload-window" mapstructure:"upload-window"`

	// QueryLimit 查询接口窗口内最大请求数。
	QueryLimit int `json:"query-limit" mapstructure:"query-limit"`

	// QueryWindow 查询接口滑动窗口长度。
	QueryWindow time.Duration `json:"query-window" mapstructure:"query-window"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Backend:      "memory",
		UploadLimit:  5,
		UploadWindow: time.Minute,
		QueryLimit:   20,
		QueryWindow:  time.Minute,
	}
}

// AddFlags adds flags for rate limit options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Backend, p+"ratelimit.backend", o.Backend, "Rate limiter backend (memory|redis).")
	fs.IntVar(&o.UploadLimit, p+"ratelimit.upload-limit", o.UploadLimit, "Maximum upload requests per window.")
	fs.DurationVar(&o.UploadWindow, p+"ratelimit.upload-window", o.UploadWindow, "Sliding window length for uploads.")
	fs.IntVar(&o.QueryLimit, p+"ratelimit.query-limit", o.QueryLimit, "Maximum query requests per window.")
	fs.DurationVar(&o.QueryWindow, p+"ratelimit.query-window", o.QueryWindow, "Sliding window length for queries.")
}

// Validate validates the rate limit options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Backend != "memory" && o.Backend != "redis" {
		errs = append(errs, fmt.Errorf("ratelimit.backend must be memory or redis"))
	}
	if o.UploadLimit <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.upload-limit must be positive"))
	}
	if o.QueryLimit <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.query-limit must be positive"))
	}
	if o.UploadWindow <= 0 || o.QueryWindow <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit windows must be positive"))
	}
	return errs
}

// Complete completes the rate limit options with defaults.
func (o *Options) Complete() error {
	if o.Backend == "" {
		o.Backend = "memory"
	}
	return nil
}
