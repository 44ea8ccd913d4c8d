package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/directory"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

const (
	// ServiceType is the mDNS service type nodes advertise their chunk server under.
	ServiceType = "_p2p-swarm._tcp"
	Domain      = "local."

	// MetaNodeID is the TXT key carrying the advertiser's node id.
	MetaNodeID = "id"
)

// ServiceInfo is a node found over mDNS.
type ServiceInfo struct {
	InstanceName string
	HostName     string
	Port         int
	IPs          []string
	Meta         map[string]string
}

// Advertiser publishes the local chunk server over mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// Resolver browses for other nodes over mDNS.
type Resolver struct {
	resolver *zeroconf.Resolver
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start registers the service. An empty instanceName is derived from the hostname.
func (a *Advertiser) Start(instanceName string, port int, meta map[string]string) error {
	if instanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceName = "p2p-swarm"
		} else {
			instanceName = fmt.Sprintf("p2p-swarm-%s", hostname)
		}
	}

	var txtRecords []string
	for k, v := range meta {
		txtRecords = append(txtRecords, fmt.Sprintf("%s=%s", k, v))
	}

	server, err := zeroconf.Register(instanceName, ServiceType, Domain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	logger.Sugar.Infof("[mDNS] advertising: instance=%s port=%d", instanceName, port)
	return nil
}

func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse scans for services until ctx is done. Entries without an IPv4 address are skipped.
func (r *Resolver) Browse(ctx context.Context) (<-chan *ServiceInfo, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan *ServiceInfo, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				info := serviceInfoFrom(entry)
				if len(info.IPs) == 0 {
					continue
				}
				select {
				case results <- info:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

func serviceInfoFrom(entry *zeroconf.ServiceEntry) *ServiceInfo {
	info := &ServiceInfo{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          make([]string, 0, len(entry.AddrIPv4)),
		Meta:         make(map[string]string),
	}
	for _, ip := range entry.AddrIPv4 {
		info.IPs = append(info.IPs, ip.String())
	}
	for _, record := range entry.Text {
		k, v, ok := strings.Cut(record, "=")
		if ok {
			info.Meta[k] = v
		}
	}
	return info
}

// TrackPresence marks every node seen on services as alive in dir until the channel
// closes. The node advertising selfID is skipped.
func TrackPresence(services <-chan *ServiceInfo, dir *directory.Directory, selfID string) {
	for info := range services {
		if selfID != "" && info.Meta[MetaNodeID] == selfID {
			continue
		}
		for _, ip := range info.IPs {
			peer := pkg.PeerAddress{Host: ip, Port: info.Port}
			if dir.Touch(peer) {
				logger.Sugar.Infof("[mDNS] discovered node: instance=%s addr=%s", info.InstanceName, peer)
			}
		}
	}
}
