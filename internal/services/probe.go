package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const probeTimeout = 2 * time.Second

// Probe checks a service endpoint once. http and https URLs must answer a
// GET with a 2xx status; tcp://host:port must accept a connection.
func Probe(ctx context.Context, client *http.Client, probeURL string) error {
	u, err := url.Parse(probeURL)
	if err != nil {
		return fmt.Errorf("parsing probe url %q: %w", probeURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch u.Scheme {
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return err
		}
		return conn.Close()
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("probe %s: status %d", probeURL, resp.StatusCode)
		}
		return nil
	}
	return fmt.Errorf("unsupported probe scheme %q in %s", u.Scheme, probeURL)
}
