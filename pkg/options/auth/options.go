// Package auth provides shared-key authentication options.
package auth

import (
	"os"

	"github.com/kart-io/docuchat/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains shared-key authentication configuration.
// 未配置密钥时认证中间件直接放行。
type Options struct {
	// SharedKey 所有 API 请求需携带的静态密钥。
	SharedKey string `json:"-" mapstructure:"shared-key"`

	// Header 密钥所在的请求头名称。
	Header string `json:"header" mapstructure:"header"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Header: "X-API-Key",
	}
}

// AddFlags adds flags for auth options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.SharedKey, p+"auth.shared-key", o.SharedKey, "Static API key required on all requests (empty disables auth).")
	fs.StringVar(&o.Header, p+"auth.header", o.Header, "Header carrying the API key.")
}

// Validate validates the auth options.
func (o *Options) Validate() []error {
	return nil
}

// Complete completes the auth options with defaults.
func (o *Options) Complete() error {
	// CLI 参数为空时回退到环境变量
	if o.SharedKey == "" {
		o.SharedKey = os.Getenv("DOCUCHAT_SHARED_KEY")
	}
	if o.Header == "" {
		o.Header = "X-API-Key"
	}
	return nil
}

// Enabled reports whether shared-key auth is active.
func (o *Options) Enabled() bool {
	return o.SharedKey != ""
}
