// Package options contains flags and options for initializing the docuchat server.
package options

import (
	"errors"
	"fmt"
	"time"

	docuchat "github.com/kart-io/docuchat/internal/docuchat"
	"github.com/kart-io/docuchat/pkg/app"
	authopts "github.com/kart-io/docuchat/pkg/options/auth"
	docuchatopts "github.com/kart-io/docuchat/pkg/options/docuchat"
	llmopts "github.com/kart-io/docuchat/pkg/options/llm"
	logopts "github.com/kart-io/docuchat/pkg/options/logger"
	ratelimitopts "github.com/kart-io/docuchat/pkg/options/ratelimit"
	redisopts "github.com/kart-io/docuchat/pkg/options/redis"
	sessionopts "github.com/kart-io/docuchat/pkg/options/session"
	httpopts "github.com/kart-io/docuchat/pkg/options/server/http"
)

var _ app.CliOptions = (*ServerOptions)(nil)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// LLMOptions contains the provider fallback chain configuration.
	LLMOptions *llmopts.ChainOptions `json:"llm" mapstructure:"llm"`

	// DocuChatOptions contains chunking and retrieval configuration.
	DocuChatOptions *docuchatopts.Options `json:"docuchat" mapstructure:"docuchat"`

	// SessionOptions contains session lifecycle configuration.
	SessionOptions *sessionopts.Options `json:"session" mapstructure:"session"`

	// RateLimitOptions contains per-endpoint rate limit configuration.
	RateLimitOptions *ratelimitopts.Options `json:"ratelimit" mapstructure:"ratelimit"`

	// AuthOptions contains shared key authentication configuration.
	AuthOptions *authopts.Options `json:"auth" mapstructure:"auth"`

	// RedisOptions contains Redis configuration.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// ShutdownTimeout is the timeout for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		LLMOptions:       llmopts.NewChainOptions(),
		DocuChatOptions:  docuchatopts.NewOptions(),
		SessionOptions:   sessionopts.NewOptions(),
		RateLimitOptions: ratelimitopts.NewOptions(),
		AuthOptions:      authopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		ShutdownTimeout:  30 * time.Second,
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.LLMOptions.AddFlags(fss.FlagSet("llm"))
	o.DocuChatOptions.AddFlags(fss.FlagSet("docuchat"), "docuchat.")
	o.SessionOptions.AddFlags(fss.FlagSet("session"))
	o.RateLimitOptions.AddFlags(fss.FlagSet("ratelimit"))
	o.AuthOptions.AddFlags(fss.FlagSet("auth"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))

	fs := fss.FlagSet("misc")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout")

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.HTTPOptions.Complete(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := o.LLMOptions.Complete(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := o.DocuChatOptions.Complete(); err != nil {
		return fmt.Errorf("docuchat: %w", err)
	}
	if err := o.SessionOptions.Complete(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := o.RateLimitOptions.Complete(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if err := o.AuthOptions.Complete(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return o.LogOptions.Complete()
}

// Validate checks all options for basic sanity.
func (o *ServerOptions) Validate() error {
	var errs []error

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LLMOptions.Validate()...)
	errs = append(errs, o.DocuChatOptions.Validate()...)
	errs = append(errs, o.SessionOptions.Validate()...)
	errs = append(errs, o.RateLimitOptions.Validate()...)
	errs = append(errs, o.AuthOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	if err := o.LogOptions.Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown-timeout must be positive"))
	}

	return errors.Join(errs...)
}

// Config builds the runtime configuration from the completed options.
func (o *ServerOptions) Config() (*docuchat.Config, error) {
	return &docuchat.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		LLMOptions:       o.LLMOptions,
		DocuChatOptions:  o.DocuChatOptions,
		SessionOptions:   o.SessionOptions,
		RateLimitOptions: o.RateLimitOptions,
		AuthOptions:      o.AuthOptions,
		RedisOptions:     o.RedisOptions,
		ShutdownTimeout:  o.ShutdownTimeout,
	}, nil
}
