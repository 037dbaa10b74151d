package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source streams a remote file on every Open. It satisfies
// datasource.Source.
type Source struct {
	Client *Client
	URL    string
}

// Open issues a GET and returns the response body. Non-2xx responses are
// errors.
func (s Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.Client.Get(ctx, s.URL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("httpds: GET %s: status %d", s.URL, resp.StatusCode)
	}
	return resp.Body, nil
}
