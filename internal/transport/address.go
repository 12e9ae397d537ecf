// Topic-tagged publish/subscribe over WebSocket connections
package transport

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Path is the HTTP path publishers serve and subscribers dial.
const Path = "/pubsub"

var (
	// ErrInvalidAddress is returned for endpoints that cannot be parsed.
	ErrInvalidAddress = errors.New("transport: invalid address")
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("transport: closed")
)

var endpointRe = regexp.MustCompile(`^(tcp|ws)://(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3}):(\d{1,5})$`)

// ValidAddress reports whether addr has the shape scheme://a.b.c.d:port with
// scheme tcp or ws, octets in 0-255 and port in 1-65535.
func ValidAddress(addr string) bool {
	m := endpointRe.FindStringSubmatch(addr)
	if m == nil {
		return false
	}
	for _, o := range m[2:6] {
		n, err := strconv.Atoi(o)
		if err != nil || n > 255 {
			return false
		}
	}
	port, err := strconv.Atoi(m[6])
	return err == nil && port >= 1 && port <= 65535
}

// splitEndpoint returns host and port of "tcp://host:port" or "ws://host:port".
func splitEndpoint(addr string) (string, string, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok || (scheme != "tcp" && scheme != "ws") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	rest = strings.TrimSuffix(rest, Path)
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	host, port := rest[:i], rest[i+1:]
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return "", "", fmt.Errorf("%w: bad port in %q", ErrInvalidAddress, addr)
	}
	return host, port, nil
}

// listenAddr maps a bind endpoint onto a net.Listen address. A "*" host
// listens on every interface.
func listenAddr(addr string) (string, error) {
	host, port, err := splitEndpoint(addr)
	if err != nil {
		return "", err
	}
	if host == "*" {
		host = ""
	}
	return host + ":" + port, nil
}

// dialURL maps a connect endpoint onto the WebSocket URL of a publisher.
func dialURL(addr string) (string, error) {
	host, port, err := splitEndpoint(addr)
	if err != nil {
		return "", err
	}
	if host == "*" || host == "" {
		return "", fmt.Errorf("%w: cannot connect to wildcard %q", ErrInvalidAddress, addr)
	}
	return "ws://" + host + ":" + port + Path, nil
}
