package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/folio/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// newClient builds an API client from the global flags.
func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set FOLIO_SERVER_URL env var or use --server-url)")
	}

	level := slog.LevelError
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return client.NewClient(serverURL, nil, logger), nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// compileJQ parses and compiles each filter.
func compileJQ(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// jqInput converts a typed value into the generic form gojq walks.
func jqInput(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// runJQ returns every result code produces for v.
func runJQ(code *gojq.Code, v interface{}) ([]interface{}, error) {
	input, err := jqInput(v)
	if err != nil {
		return nil, err
	}

	var results []interface{}
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// matchesAll reports whether every filter's first result is truthy for v.
func matchesAll(codes []*gojq.Code, v interface{}) bool {
	for _, code := range codes {
		results, err := runJQ(code, v)
		if err != nil || len(results) == 0 {
			return false
		}
		if !isTruthy(results[0]) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
