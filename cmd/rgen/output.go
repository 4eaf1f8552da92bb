package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"rgen/internal/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMetadata turns key=value pairs into metadata. Values that parse as
// JSON keep their type, anything else is a string.
func parseMetadata(pairs []string) (domain.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(domain.Metadata, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", p)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			md[k] = parsed
		} else {
			md[k] = v
		}
	}
	return md, nil
}

// optionalInt returns nil when the flag was not set.
func optionalInt(set bool, v int) *int {
	if !set {
		return nil
	}
	return &v
}

func optionalFloat(set bool, v float64) *float64 {
	if !set {
		return nil
	}
	return &v
}
