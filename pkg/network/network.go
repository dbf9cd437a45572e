// Package network configures the shared HTTP transport used by every
// outbound client: upstream API, media downloads and blob uploads.
package network

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// NewTransport builds the pooled transport. When bindAddr is non-empty,
// outbound connections are bound to that local IP or interface.
func NewTransport(bindAddr string) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if bindAddr == "" {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
		return transport, nil
	}

	local, err := resolveBindAddr(bindAddr)
	if err != nil {
		return nil, err
	}
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			LocalAddr: local,
		}
		return dialer.DialContext(ctx, network, addr)
	}
	return transport, nil
}

// Install makes transport the process default so clients constructed with
// plain http.Client values share the pool.
func Install(transport *http.Transport) {
	http.DefaultTransport = transport
	http.DefaultClient = &http.Client{Transport: transport}
}

// resolveBindAddr accepts an IP address or an interface name and returns a
// local TCP address to bind to.
func resolveBindAddr(addrOrInterface string) (*net.TCPAddr, error) {
	if ip := net.ParseIP(addrOrInterface); ip != nil {
		return &net.TCPAddr{IP: ip}, nil
	}
	iface, err := net.InterfaceByName(addrOrInterface)
	if err != nil {
		return nil, fmt.Errorf("failed to find network interface %q: %w", addrOrInterface, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses for interface %q: %w", addrOrInterface, err)
	}
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			return &net.TCPAddr{IP: ip}, nil
		}
	}
	return nil, fmt.Errorf("no usable IPv4 address on interface %q", addrOrInterface)
}
