package main

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const uriScheme = "owserver"

// target is a parsed [owserver:]//host:port/path argument. Empty Host or
// Port leave the configured value in place.
type target struct {
	Host string
	Port string
	Path string
}

func parseURI(raw string) (target, error) {
	if strings.TrimSpace(raw) == "" {
		return target{Path: "/"}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("invalid URI %q: %w", raw, err)
	}
	if u.Scheme != "" && u.Scheme != uriScheme {
		return target{}, fmt.Errorf("invalid URI scheme '%s:'", u.Scheme)
	}
	if u.Opaque != "" {
		return target{}, fmt.Errorf("invalid URI %q, expected [owserver:]//host:port/path", raw)
	}
	if u.RawQuery != "" || u.ForceQuery {
		return target{}, fmt.Errorf("invalid URI %q, no query component allowed", raw)
	}
	if u.Fragment != "" {
		return target{}, fmt.Errorf("invalid URI %q, no fragment allowed", raw)
	}
	if u.User != nil {
		return target{}, fmt.Errorf("invalid URI %q, no user info allowed", raw)
	}

	t := target{Path: u.Path}
	if t.Path == "" {
		t.Path = "/"
	}
	if u.Host != "" {
		t.Host = u.Hostname()
		t.Port = u.Port()
		if strings.HasSuffix(u.Host, ":") {
			return target{}, fmt.Errorf("invalid URI %q, empty port", raw)
		}
		if t.Port != "" {
			if _, err := net.LookupPort("tcp", t.Port); err != nil {
				return target{}, fmt.Errorf("invalid URI %q: %w", raw, err)
			}
		}
	}
	return t, nil
}

func (t target) String() string {
	host := t.Host
	if host == "" {
		host = "localhost"
	}
	port := t.Port
	if port == "" {
		port = "4304"
	}
	return uriScheme + "://" + net.JoinHostPort(host, port) + t.Path
}
