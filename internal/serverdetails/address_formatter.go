// Package serverdetails renders listening addresses for log lines.
package serverdetails

import (
	"net"
	"strings"
)

const localhostName = "localhost"

var localAddresses = map[string]struct{}{
	"":          {},
	"0.0.0.0":   {},
	"::":        {},
	"127.0.0.1": {},
	"::1":       {},
	"localhost": {},
}

// ServingAddressFormatter turns a bind address into something a user can paste into a client.
type ServingAddressFormatter struct{}

// NewServingAddressFormatter constructs a ServingAddressFormatter.
func NewServingAddressFormatter() ServingAddressFormatter {
	return ServingAddressFormatter{}
}

// FormatHostAndPortForLogging maps wildcard and loopback binds to localhost and
// brackets IPv6 hosts.
func (formatter ServingAddressFormatter) FormatHostAndPortForLogging(bindAddress string, port string) string {
	host := strings.TrimSpace(bindAddress)
	if _, local := localAddresses[host]; local {
		host = localhostName
	}
	return net.JoinHostPort(host, strings.TrimSpace(port))
}

// FormatURLForLogging prefixes the display address with scheme.
func (formatter ServingAddressFormatter) FormatURLForLogging(scheme string, bindAddress string, port string) string {
	normalizedScheme := strings.TrimSuffix(strings.TrimSpace(scheme), "://")
	return normalizedScheme + "://" + formatter.FormatHostAndPortForLogging(bindAddress, port)
}
