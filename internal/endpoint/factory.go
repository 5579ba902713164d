package endpoint

import (
	"fmt"
	"net/url"
	"strconv"

	"sxbackup-go/internal/sx"
)

// Parse resolves an endpoint URL: `ssh://[user@]host[:port]/path` for
// remote, or a bare POSIX path for local. It returns the endpoint and the
// path component.
func Parse(raw string) (sx.Endpoint, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		// Not a URL at all, or a bare path: treat the whole string as a
		// local path.
		return NewLocal(), raw, nil
	}
	if u.Scheme != "ssh" {
		return nil, "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, "", fmt.Errorf("ssh endpoint URL %q is missing a host", raw)
	}

	host := u.Hostname()
	port := 0
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, "", fmt.Errorf("ssh endpoint URL %q has an invalid port: %w", raw, err)
		}
		port = n
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}

	path := u.Path
	if path == "" {
		return nil, "", fmt.Errorf("ssh endpoint URL %q is missing a path", raw)
	}

	return NewRemote(user, host, port), path, nil
}
