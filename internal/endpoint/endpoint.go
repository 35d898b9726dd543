package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidEndpoint = errors.New("endpoint: invalid server entry")

const defaultPort = 9092

type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolve parses the servers config into an ordered endpoint list.
// Accepted shapes: a comma separated "host:port,host" string, a
// []string, or a []any of strings (what a YAML list decodes to).
func Resolve(raw any) ([]Endpoint, error) {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, item)
			}
			parts = append(parts, s)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported servers shape %T", ErrInvalidEndpoint, raw)
	}

	eps := make([]Endpoint, 0, len(parts))
	for _, p := range parts {
		ep, err := parseOne(p)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("%w: empty server list", ErrInvalidEndpoint)
	}
	return eps, nil
}

func parseOne(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty entry", ErrInvalidEndpoint)
	}
	if !strings.Contains(s, ":") {
		return Endpoint{Host: s, Port: defaultPort}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil || host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: bad port in %q", ErrInvalidEndpoint, s)
	}
	return Endpoint{Host: host, Port: port}, nil
}
