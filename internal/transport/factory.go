package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// New builds a Transport from a connection string. "tcp://host:port"
// selects TCP; anything else (optionally prefixed "serial://") is treated
// as a serial device path. baud is only used for serial; pass 0 for the
// default.
func New(connString string, baud int) (Transport, error) {
	if strings.HasPrefix(connString, "tcp://") {
		hostport := strings.TrimPrefix(connString, "tcp://")
		host, portStr, err := net.SplitHostPort(hostport)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid tcp address %q: %w", hostport, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid tcp port %q: %w", portStr, err)
		}
		return NewTCP(host, port), nil
	}

	path := strings.TrimPrefix(connString, "serial://")
	if path == "" {
		return nil, fmt.Errorf("transport: empty serial path")
	}
	return NewSerial(path, baud), nil
}
