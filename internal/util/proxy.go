// Package util holds small helpers shared across the playground: outbound
// proxy wiring, redaction of secrets in logs, and filesystem locations.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures client to route outbound provider calls through the
// proxy in cfg.ProxyURL. http(s) proxies use the transport Proxy hook and
// socks5 proxies dial through golang.org/x/net/proxy. An invalid URL is
// logged and the client is returned unchanged.
func SetProxy(cfg *config.SDKConfig, client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	if cfg == nil || strings.TrimSpace(cfg.ProxyURL) == "" {
		return client
	}
	proxyURL, err := url.Parse(strings.TrimSpace(cfg.ProxyURL))
	if err != nil {
		log.Errorf("invalid proxy-url %q: %v", cfg.ProxyURL, err)
		return client
	}

	var transport *http.Transport
	if base, ok := client.Transport.(*http.Transport); ok && base != nil {
		transport = base.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	switch proxyURL.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			pass, _ := proxyURL.User.Password()
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: pass}
		}
		dialer, errSocks := proxy.SOCKS5("tcp", proxyURL.Host, auth, &net.Dialer{Timeout: 30 * time.Second})
		if errSocks != nil {
			log.Errorf("failed to create socks5 dialer: %v", errSocks)
			return client
		}
		transport.Proxy = nil
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = ctxDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	default:
		log.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
		return client
	}
	client.Transport = transport
	return client
}
