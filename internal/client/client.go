// Package client builds the HTTP client shared by model providers and
// remote sandboxes.
package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

var (
	once      sync.Once
	shared    *http.Client
	sharedErr error
)

// Shared returns the process-wide client, configured from the proxy
// environment variables on first use.
func Shared() (*http.Client, error) {
	once.Do(func() {
		shared, sharedErr = New(ProxyFromEnv())
	})
	return shared, sharedErr
}

// ProxyFromEnv returns the first proxy address found in the environment.
func ProxyFromEnv() string {
	for _, key := range []string{"ALL_PROXY", "all_proxy", "HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "SOCKS_PROXY", "socks_proxy"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// New builds a client that dials through proxyAddr, which may be empty,
// a socks5:// URL, or an http(s):// URL.
func New(proxyAddr string) (*http.Client, error) {
	direct := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = direct.DialContext

	if proxyAddr != "" {
		u, err := url.Parse(proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy address %q: %w", proxyAddr, err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks", "socks5", "socks5h":
			if u.Scheme == "socks" {
				u.Scheme = "socks5"
			}
			dialer, err := proxy.FromURL(u, direct)
			if err != nil {
				return nil, fmt.Errorf("proxy dialer for %q: %w", proxyAddr, err)
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}
	return &http.Client{Transport: transport}, nil
}
