// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package portproxy tracks TCP ports exposed from inside the container and
// forwards external HTTP requests to them. The inactive-port sweep runs on a
// simple ticker loop: wake, list, filter by age, remove, log one line per
// reclaim.
package portproxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/apierr"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/monitor"
)

var logger = logutil.GetLogger("portproxy")

// Status is an ExposedPort's lifecycle stage.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

const (
	sweepInterval = 5 * time.Minute
	inactiveAge   = time.Hour
)

// reservedPorts are never eligible for exposure: well-known system ports,
// common databases, and the container's own control port.
var reservedPorts = map[int]bool{
	22: true, 25: true, 53: true, 80: true, 443: true,
	2375: true, 2376: true, 3306: true, 5432: true, 6379: true,
	6443: true, 8080: true, 27017: true,
}

// SetControlPort additionally reserves the daemon's own listening port.
func SetControlPort(port int) {
	reservedPorts[port] = true
}

// ExposedPort is one tracked port declaration.
type ExposedPort struct {
	Port       int
	Name       string
	ExposedAt  time.Time
	Status     Status
	inactiveAt time.Time
}

// Registry tracks every ExposedPort.
type Registry struct {
	mu    sync.Mutex
	ports map[int]*ExposedPort

	sweepStop chan struct{}
}

// NewRegistry creates an empty Registry and starts its inactive-port sweep.
func NewRegistry() *Registry {
	r := &Registry{
		ports:     make(map[int]*ExposedPort),
		sweepStop: make(chan struct{}),
	}

	go r.sweepLoop()

	return r
}

// Expose validates port and records it as active.
func (r *Registry) Expose(port int, name string) (*ExposedPort, error) {
	if port < 1024 || port > 65535 {
		return nil, apierr.New(apierr.CodeInvalidPort, "port %d is out of the allowed range 1024-65535", port)
	}

	if reservedPorts[port] {
		return nil, apierr.New(apierr.CodeInvalidPort, "port %d is reserved and cannot be exposed", port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.ports[port]; ok && existing.Status == StatusActive {
		return nil, apierr.New(apierr.CodePortAlreadyExposed, "port %d is already exposed", port)
	}

	ep := &ExposedPort{
		Port:      port,
		Name:      name,
		ExposedAt: time.Now(),
		Status:    StatusActive,
	}

	r.ports[port] = ep
	monitor.MetricsPortsExposed.Inc()

	return ep, nil
}

// Unexpose marks port inactive.
func (r *Registry) Unexpose(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.ports[port]
	if !ok || ep.Status != StatusActive {
		return apierr.New(apierr.CodePortNotFound, "port %d is not exposed", port)
	}

	ep.Status = StatusInactive
	ep.inactiveAt = time.Now()
	monitor.MetricsPortsExposed.Dec()

	return nil
}

// List returns every tracked port.
func (r *Registry) List() []*ExposedPort {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ExposedPort, 0, len(r.ports))
	for _, ep := range r.ports {
		out = append(out, ep)
	}

	return out
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.sweepStop:
			return
		case <-ticker.C:
			r.sweepInactive()
		}
	}
}

func (r *Registry) sweepInactive() {
	cutoff := time.Now().Add(-inactiveAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	for port, ep := range r.ports {
		if ep.Status == StatusInactive && ep.inactiveAt.Before(cutoff) {
			delete(r.ports, port)
			monitor.MetricsPortsSweptInactive.WithLabelValues().Inc()
			logger.Infof("reclaimed inactive exposed port %d", port)
		}
	}
}

// Close stops the inactive-port sweep.
func (r *Registry) Close() {
	close(r.sweepStop)
}

var subdomainPattern = regexp.MustCompile(`^(\d+)-([^.]+)\.`)

// ParseSubdomain extracts the port from a {port}-{sandboxId}.<base> host, if
// host matches that shape.
func ParseSubdomain(host string) (port int, sandboxID string, ok bool) {
	m := subdomainPattern.FindStringSubmatch(host)
	if m == nil {
		return 0, "", false
	}

	p, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}

	return p, m[2], true
}

// NewReverseProxy builds an httputil.ReverseProxy forwarding to
// localhost:port, preserving the request's remaining path, streaming both
// the request and response bodies, and reporting connect failures as a 502
// with a JSON body describing the failure.
func NewReverseProxy(port int) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}

	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warnf("proxy to port %d failed: %v", port, err)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"success":false,"error":%q,"code":"INTERNAL_ERROR"}`, err.Error())
	}

	return proxy
}
