package cluster

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ServiceDiscovery finds the peers of this node so a fresh pod can join the
// existing cluster.
type ServiceDiscovery interface {
	// Lookup returns the host:port pairs of all discovered peers, including
	// this node.
	Lookup() ([]string, error)

	// IP returns the address of this node.
	IP() (string, error)

	// Hostname returns the hostname of this node.
	Hostname() (string, error)
}

// ServiceDiscoverySRV discovers peers through the DNS SRV records published
// by a Kubernetes headless service.
type ServiceDiscoverySRV struct {
	namespace   string
	serviceName string

	lookupSRVFn      func(service, proto, name string) (string, []*net.SRV, error)
	lookupIPFn       func(host string) ([]string, error)
	lookupHostnameFn func() (string, error)
}

func NewServiceDiscoverySRV(namespace, serviceName string) *ServiceDiscoverySRV {
	return &ServiceDiscoverySRV{
		namespace:        namespace,
		serviceName:      serviceName,
		lookupSRVFn:      net.LookupSRV,
		lookupIPFn:       net.LookupHost,
		lookupHostnameFn: os.Hostname,
	}
}

func (s *ServiceDiscoverySRV) Lookup() ([]string, error) {
	_, srvs, err := s.lookupSRVFn(
		"", "", fmt.Sprintf("%s.%s.svc.cluster.local", s.serviceName, s.namespace),
	)
	if err != nil {
		return nil, err
	}

	hosts := make([]string, 0, len(srvs))
	for _, srv := range srvs {
		target := strings.TrimSuffix(srv.Target, ".")
		hosts = append(hosts, fmt.Sprintf("%s:%d", target, srv.Port))
	}

	return hosts, nil
}

func (s *ServiceDiscoverySRV) IP() (string, error) {
	hostname, err := s.Hostname()
	if err != nil {
		return "", err
	}

	ips, err := s.lookupIPFn(hostname)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses found for %s", hostname)
	}

	return ips[0], nil
}

func (s *ServiceDiscoverySRV) Hostname() (string, error) {
	return s.lookupHostnameFn()
}
