package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint builds topic URLs of the form
// <ws|wss>://<host>/<base>/<topic-path>/?token=<credential>.
type Endpoint struct {
	Origin   string // http(s) or ws(s) origin, e.g. https://bids.example.com
	BasePath string // e.g. "ws"
}

// URL returns the connection URL for a topic path. The token query
// parameter is omitted when token is empty.
func (e Endpoint) URL(topicPath, token string) (string, error) {
	u, err := url.Parse(e.Origin)
	if err != nil {
		return "", fmt.Errorf("%w: origin: %v", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: origin scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: origin host missing", ErrInvalidURL)
	}

	var segs []string
	for _, part := range []string{e.BasePath, topicPath} {
		if p := strings.Trim(part, "/"); p != "" {
			segs = append(segs, p)
		}
	}
	u.Path = "/" + strings.Join(segs, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	if token != "" {
		u.RawQuery = url.Values{"token": []string{token}}.Encode()
	}
	return u.String(), nil
}
