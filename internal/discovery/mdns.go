// ABOUTME: mDNS advertisement of a running receiver
// ABOUTME: Publishes the receiver name, stream endpoint and monitor port on the local network
package discovery

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// ServiceType is the mDNS service receivers advertise under
const ServiceType = "_ohreceiver._udp"

// Config holds advertisement configuration
type Config struct {
	Name     string
	Port     int    // Monitor port, or the Songcast port when there is none
	Endpoint string // Stream being played
	Version  string
}

// Advertiser publishes one receiver via mDNS
type Advertiser struct {
	server *mdns.Server
}

// Advertise starts answering mDNS queries for this receiver
func Advertise(config Config) (*Advertiser, error) {
	service, err := newService(config)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"name": config.Name,
		"port": config.Port,
		"type": ServiceType,
	}).Info("Advertising mDNS service")

	return &Advertiser{server: server}, nil
}

func newService(config Config) (*mdns.MDNSService, error) {
	ips, err := getLocalIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		config.Name,
		ServiceType,
		"",
		"",
		config.Port,
		ips,
		txtRecords(config),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return service, nil
}

func txtRecords(config Config) []string {
	txt := []string{"version=" + config.Version, "port=" + strconv.Itoa(config.Port)}
	if config.Endpoint != "" {
		txt = append(txt, "endpoint="+config.Endpoint)
	}
	return txt
}

// Stop withdraws the advertisement
func (a *Advertiser) Stop() error {
	return a.server.Shutdown()
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
