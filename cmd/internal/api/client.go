package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"argus/cmd/internal/auth/transport"

	"github.com/go-playground/validator/v10"
)

// Doer is the authenticated transport.
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

// Client is the typed REST client. It holds no state of its own.
type Client struct {
	tr Doer
}

// New builds a Client over tr.
func New(tr Doer) *Client {
	return &Client{tr: tr}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// pathID checks one path segment. The transport escapes it when building the URL.
func pathID(kind, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidInput, kind)
	}
	if strings.ContainsAny(id, "/?#") {
		return "", fmt.Errorf("%w: bad %s %q", ErrInvalidInput, kind, id)
	}
	return id, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.tr.Do(ctx, transport.Request{Method: http.MethodGet, Path: path, Query: q}, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.tr.Do(ctx, transport.Request{Method: http.MethodPost, Path: path, JSON: body}, out)
}

func (c *Client) patch(ctx context.Context, path string, body, out any) error {
	return c.tr.Do(ctx, transport.Request{Method: http.MethodPatch, Path: path, JSON: body}, out)
}

func (c *Client) delete(ctx context.Context, path string, out any) error {
	return c.tr.Do(ctx, transport.Request{Method: http.MethodDelete, Path: path}, out)
}
