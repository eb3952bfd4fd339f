// Package registrypub publishes the algorithm catalog into an external
// service registry when the service enters Running, and deregisters it on
// Shutdown. The registry is a Pulse replicated map backed by Redis; peers
// discover invocation endpoints by reading the published catalog entries.
package registrypub

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/bottomsky/algotirhm-sdk/internal/spec"
)

// CatalogEntry describes one invocable algorithm in the published catalog.
type CatalogEntry struct {
	Name              string            `json:"name"`
	Version           string            `json:"version"`
	Description       string            `json:"description"`
	Kind              string            `json:"kind"`
	Route             string            `json:"route"`
	SchemaURL         string            `json:"schema_url"`
	AbsoluteRoute     string            `json:"absolute_route"`
	AbsoluteSchemaURL string            `json:"absolute_schema_url"`
	InputSchema       json.RawMessage   `json:"input_schema,omitempty"`
	OutputSchema      json.RawMessage   `json:"output_schema,omitempty"`
	Author            string            `json:"author,omitempty"`
	Category          string            `json:"category,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Catalog is the KV document written under
// services/{service_name}/{instance_id}/algorithms.
type Catalog struct {
	Service    string         `json:"service"`
	ServiceID  string         `json:"service_id"`
	BaseURL    string         `json:"base_url"`
	ListURL    string         `json:"list_url"`
	Algorithms []CatalogEntry `json:"algorithms"`
}

// InstanceRecord is the KV document written under
// services/{service_name}/{instance_id}: the instance registration with its
// health-check descriptor.
type InstanceRecord struct {
	Service      string      `json:"service"`
	InstanceID   string      `json:"instance_id"`
	Version      string      `json:"version"`
	Address      string      `json:"address"`
	HealthCheck  HealthCheck `json:"health_check"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// HealthCheck points peers and monitors at this instance's liveness probe.
type HealthCheck struct {
	URL      string `json:"url"`
	Interval string `json:"interval"`
	Timeout  string `json:"timeout"`
}

// BuildCatalog renders the current registry contents into a Catalog rooted
// at baseURL. Entries are sorted by (name, version) so repeated publishes
// of an unchanged registry produce identical documents.
func BuildCatalog(reg *spec.Registry, service, instanceID, baseURL string) Catalog {
	specs := reg.List()
	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Name != specs[j].Name {
			return specs[i].Name < specs[j].Name
		}
		return specs[i].Version < specs[j].Version
	})

	entries := make([]CatalogEntry, 0, len(specs))
	for _, s := range specs {
		route := fmt.Sprintf("/algorithms/%s/%s", s.Name, s.Version)
		schemaURL := route + "/schema"
		entries = append(entries, CatalogEntry{
			Name:              s.Name,
			Version:           s.Version,
			Description:       s.Metadata.Description,
			Kind:              string(s.Kind),
			Route:             route,
			SchemaURL:         schemaURL,
			AbsoluteRoute:     baseURL + route,
			AbsoluteSchemaURL: baseURL + schemaURL,
			InputSchema:       json.RawMessage(s.InputSchema),
			OutputSchema:      json.RawMessage(s.OutputSchema),
			Author:            s.Metadata.Author,
			Category:          s.Metadata.Category,
			Extra:             s.Metadata.Extra,
		})
	}
	return Catalog{
		Service:    service,
		ServiceID:  instanceID,
		BaseURL:    baseURL,
		ListURL:    baseURL + "/algorithms",
		Algorithms: entries,
	}
}
