package adapter

import (
	"net/http"
	"time"

	"quoteflow/config"
)

// NewHTTPClient builds the pooled client shared by HTTP-based providers.
func NewHTTPClient(pool config.ConnectionPoolConfig, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 16
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
