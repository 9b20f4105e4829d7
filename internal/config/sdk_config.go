// Package config provides configuration management for the OAuth playground.
// It loads YAML (or TOML) configuration files, overlays .env and PLAYGROUND_*
// environment variables, and exposes structured access to the server,
// provider, storage and Postman export settings.
package config

// SDKConfig holds the settings shared by every outbound HTTP client.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// http, https and socks5 schemes are supported.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url" toml:"proxy-url" env:"PROXY_URL"`

	// RequestLog enables logging of provider request and response bodies
	// (secrets redacted) at debug level.
	RequestLog bool `yaml:"request-log" json:"request-log" toml:"request-log" env:"REQUEST_LOG"`

	// RequestTimeoutSeconds bounds every provider call. <= 0 means 30 seconds.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty" toml:"request-timeout-seconds" env:"REQUEST_TIMEOUT_SECONDS"`
}

// RequestTimeoutOrDefault returns the configured timeout in seconds,
// defaulting to 30.
func (c *SDKConfig) RequestTimeoutOrDefault() int {
	if c == nil || c.RequestTimeoutSeconds <= 0 {
		return 30
	}
	return c.RequestTimeoutSeconds
}
