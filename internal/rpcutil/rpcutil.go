// Package rpcutil provides the shared gRPC dial and connection-cache
// helpers used by every client in this repository (coordinator, region
// router, peer aggregator). It is a direct generalization of
// scheduler/pkg/grpcutil.GetClientConn and the connMu cache embedded in
// scheduler/client.client.
package rpcutil

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Security carries optional mTLS material for a gRPC dial.
type Security struct {
	CAPath   string
	CertPath string
	KeyPath  string
}

// Dial opens a gRPC connection to addr, using TLS if ca is non-empty, the
// same branching GetClientConn uses.
func Dial(addr string, sec Security) (*grpc.ClientConn, error) {
	opt := grpc.WithTransportCredentials(insecure.NewCredentials())
	if sec.CAPath != "" {
		var certificates []tls.Certificate
		if sec.CertPath != "" && sec.KeyPath != "" {
			cert, err := tls.LoadX509KeyPair(sec.CertPath, sec.KeyPath)
			if err != nil {
				return nil, errors.Wrap(err, "load client key pair")
			}
			certificates = append(certificates, cert)
		}

		certPool := x509.NewCertPool()
		ca, err := os.ReadFile(sec.CAPath)
		if err != nil {
			return nil, errors.Wrap(err, "read ca certificate")
		}
		if !certPool.AppendCertsFromPEM(ca) {
			return nil, errors.New("failed to append ca certs")
		}

		opt = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			Certificates: certificates,
			RootCAs:      certPool,
		}))
	}

	cc, err := grpc.Dial(addr, opt)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return cc, nil
}

// ConnCache caches gRPC connections by address, matching the connMu.clientConns
// map in scheduler/client.client.
type ConnCache struct {
	security Security

	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewConnCache creates an empty connection cache.
func NewConnCache(sec Security) *ConnCache {
	return &ConnCache{security: sec, conns: make(map[string]*grpc.ClientConn)}
}

// Get returns a cached connection to addr, dialling and caching a new one
// if none exists yet.
func (c *ConnCache) Get(addr string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	cc, ok := c.conns[addr]
	c.mu.RUnlock()
	if ok {
		return cc, nil
	}

	cc, err := Dial(addr, c.security)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.conns[addr]; ok {
		cc.Close()
		return old, nil
	}
	c.conns[addr] = cc
	return cc, nil
}

// Evict drops a cached connection, forcing the next Get to redial. Used
// when the region router learns a client has gone stale.
func (c *ConnCache) Evict(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[addr]; ok {
		cc.Close()
		delete(c.conns, addr)
	}
}

// Close closes every cached connection.
func (c *ConnCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, cc := range c.conns {
		cc.Close()
		delete(c.conns, addr)
	}
}
