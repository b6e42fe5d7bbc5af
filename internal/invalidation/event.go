// Package invalidation describes the dataset-update events that evict cached road layers.
package invalidation

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event announces that the GeoJSON behind URL changed. Revision is monotonic per URL;
// zero means the publisher does not version its events.
type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	Layer    string    `json:"layer,omitempty"`
	URL      string    `json:"url"`
	Revision uint64    `json:"revision,omitempty"`
	TS       time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be update|delete")
	}
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
