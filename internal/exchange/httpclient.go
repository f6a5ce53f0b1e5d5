// Package exchange предоставляет унифицированный интерфейс биржевого аккаунта,
// paper-симулятор и REST-адаптеры бирж.
package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig - настройки HTTP клиента REST-адаптеров
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // установка TCP соединения
	ResponseTimeout     time.Duration // ожидание заголовков ответа
	TotalTimeout        time.Duration // верхняя граница запроса, если у ctx нет deadline
	TLSHandshakeTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает настройки по умолчанию.
// Таймауты короче ADAPTER_CALL_TIMEOUT не нужны: вызов ограничивает контекст.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ResponseTimeout:     10 * time.Second,
		TotalTimeout:        30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - http.Client с пулом keep-alive соединений к API биржи
type HTTPClient struct {
	client    *http.Client
	transport *http.Transport
}

// NewHTTPClient создаёт клиент с заданной конфигурацией
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			// deadline вызова короче ConnectTimeout - не ждём дольше него
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < cfg.ConnectTimeout {
				d := *dialer
				d.Timeout = time.Until(deadline)
				return d.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &HTTPClient{
		client:    &http.Client{Transport: transport, Timeout: cfg.TotalTimeout},
		transport: transport,
	}
}

// Do выполняет запрос; таймаут задаёт контекст запроса
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// Close закрывает idle соединения (graceful shutdown)
func (hc *HTTPClient) Close() {
	hc.transport.CloseIdleConnections()
}
