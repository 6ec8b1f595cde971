package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panyam/storefront/client"
)

// newRequestCmds returns one command per HTTP method
func newRequestCmds(a *app) []*cobra.Command {
	return []*cobra.Command{
		newRequestCmd(a, http.MethodGet, false),
		newRequestCmd(a, http.MethodDelete, false),
		newRequestCmd(a, http.MethodPost, true),
		newRequestCmd(a, http.MethodPut, true),
		newRequestCmd(a, http.MethodPatch, true),
	}
}

func newRequestCmd(a *app, method string, withBody bool) *cobra.Command {
	var query, headers []string
	name := strings.ToLower(method)

	cmd := &cobra.Command{
		Use:   name + " PATH",
		Short: fmt.Sprintf("Send an authenticated %s request", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := withQuery(args[0], query)
			if err != nil {
				return err
			}
			req := &client.Request{Method: method, Path: path}

			if withBody {
				body, err := readBody(cmd.InOrStdin(), args[1:])
				if err != nil {
					return err
				}
				if body != nil {
					req.Body = body
				}
			}

			if len(headers) > 0 {
				req.Header = http.Header{}
				for _, h := range headers {
					k, v, ok := strings.Cut(h, ":")
					if !ok {
						return fmt.Errorf("invalid header %q, want Name: value", h)
					}
					req.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
				}
			}

			var out any
			if err := a.client.Do(cmd.Context(), req, &out); err != nil {
				return err
			}
			if out == nil {
				return nil
			}
			return a.print(cmd, out)
		},
	}
	if withBody {
		cmd.Use = name + " PATH [JSON|-]"
		cmd.Long = fmt.Sprintf(`Send an authenticated %s request with a JSON body.

The body is the second argument, or stdin when it is "-".

Examples:
  storefront %s /products '{"name":"Coffee"}'
  cat product.json | storefront %s /products -`, method, name, name)
		cmd.Args = cobra.RangeArgs(1, 2)
	}
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra header as 'Name: value' (repeatable)")
	return cmd
}

// withQuery appends key=value pairs to path
func withQuery(path string, pairs []string) (string, error) {
	if len(pairs) == 0 {
		return path, nil
	}
	values := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return "", fmt.Errorf("invalid query parameter %q, want key=value", p)
		}
		values.Add(k, v)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + values.Encode(), nil
}

// readBody returns the JSON body from args or stdin. No argument means no body.
func readBody(in io.Reader, args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data := []byte(args[0])
	if args[0] == "-" {
		var err error
		if data, err = io.ReadAll(in); err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(data), nil
}
