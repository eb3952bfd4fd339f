package spec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

// Override is a declarative patch applied to a spec's descriptive metadata,
// observability hints, and execution hints. Overrides never touch identity
// (name/version/kind) or schemas/entrypoint — those are immutable once
// registered.
//
// Overrides are keyed by (name, version, category, kind) rather than just
// (name, version) so a malformed or stale override document cannot silently
// patch the wrong entry: if category or kind in the override record no
// longer match the live spec, the override is skipped rather than applied.
type Override struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Category string `json:"category"`
	Kind     Kind   `json:"kind"`

	Description          *string           `json:"description,omitempty"`
	CreatedTime          *string           `json:"created_time,omitempty"`
	Author               *string           `json:"author,omitempty"`
	ApplicationScenarios []string          `json:"application_scenarios,omitempty"`
	Extra                map[string]string `json:"extra,omitempty"`

	Logging   *observabilityOverride `json:"logging,omitempty"`
	Execution *executionOverride     `json:"execution,omitempty"`
}

type observabilityOverride struct {
	LoggingEnabled *bool    `json:"logging_enabled,omitempty"`
	LogInput       *bool    `json:"log_input,omitempty"`
	LogOutput      *bool    `json:"log_output,omitempty"`
	OnErrorOnly    *bool    `json:"on_error_only,omitempty"`
	SampleRate     *float64 `json:"sample_rate,omitempty"`
	MaxPayloadLen  *int     `json:"max_payload_length,omitempty"`
	RedactFields   []string `json:"redact_fields,omitempty"`
}

type executionOverride struct {
	MaxWorkers *int     `json:"max_workers,omitempty"`
	TimeoutS   *float64 `json:"timeout_s,omitempty"`
	GPU        *bool    `json:"gpu,omitempty"`
}

type overrideKey struct {
	Name     string
	Version  string
	Category string
	Kind     Kind
}

func (o Override) key() overrideKey {
	return overrideKey{Name: o.Name, Version: o.Version, Category: o.Category, Kind: o.Kind}
}

// LoadOverrides parses an array of Override records from source, in either
// JSON or YAML. Each record is applied immediately to any already-registered
// spec whose (name, version, category, kind) matches, and is cached so it
// also applies to specs registered afterward. Records with malformed
// identity fields are logged and skipped rather than aborting the whole
// load, since a single bad override record should not block every other one.
func (r *Registry) LoadOverrides(source io.Reader, logger telemetry.Logger) error {
	records, err := decodeOverrides(source)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if rec.Name == "" || rec.Version == "" {
			if logger != nil {
				logger.Warn(context.Background(), "skipping override with empty identity", "name", rec.Name, "version", rec.Version)
			}
			continue
		}
		r.overrides[rec.key()] = rec
		if s, ok := r.items[Key{Name: rec.Name, Version: rec.Version}]; ok {
			if s.Metadata.Category != rec.Category || s.Kind != rec.Kind {
				if logger != nil {
					logger.Warn(context.Background(), "override identity tuple does not match registered spec; skipping",
						"name", rec.Name, "version", rec.Version, "category", rec.Category, "kind", string(rec.Kind))
				}
				continue
			}
			r.items[Key{Name: rec.Name, Version: rec.Version}] = applyOverride(s, rec)
		}
	}
	return nil
}

// applyOverrideLocked applies any cached override matching s's identity.
// Must be called with r.mu held for writing.
func (r *Registry) applyOverrideLocked(s Spec) Spec {
	ov, ok := r.overrides[overrideKey{Name: s.Name, Version: s.Version, Category: s.Metadata.Category, Kind: s.Kind}]
	if !ok {
		return s
	}
	return applyOverride(s, ov)
}

func applyOverride(s Spec, ov Override) Spec {
	if ov.Description != nil {
		s.Metadata.Description = *ov.Description
	}
	if ov.CreatedTime != nil {
		// An ISO date or RFC 3339 timestamp; an unparsable value leaves CreatedTime unchanged.
		if t, err := time.Parse("2006-01-02", *ov.CreatedTime); err == nil {
			s.Metadata.CreatedTime = t
		} else if t, err := time.Parse(time.RFC3339, *ov.CreatedTime); err == nil {
			s.Metadata.CreatedTime = t
		}
	}
	if ov.Author != nil {
		s.Metadata.Author = *ov.Author
	}
	if ov.ApplicationScenarios != nil {
		s.Metadata.ApplicationScenarios = ov.ApplicationScenarios
	}
	if ov.Extra != nil {
		merged := make(map[string]string, len(s.Metadata.Extra)+len(ov.Extra))
		for k, v := range s.Metadata.Extra {
			merged[k] = v
		}
		for k, v := range ov.Extra {
			merged[k] = v
		}
		s.Metadata.Extra = merged
	}
	if ov.Logging != nil {
		lo := ov.Logging
		if lo.LoggingEnabled != nil {
			s.Observability.LoggingEnabled = *lo.LoggingEnabled
		}
		if lo.LogInput != nil {
			s.Observability.LogInput = *lo.LogInput
		}
		if lo.LogOutput != nil {
			s.Observability.LogOutput = *lo.LogOutput
		}
		if lo.OnErrorOnly != nil {
			s.Observability.OnErrorOnly = *lo.OnErrorOnly
		}
		if lo.SampleRate != nil {
			s.Observability.SampleRate = *lo.SampleRate
		}
		if lo.MaxPayloadLen != nil {
			s.Observability.MaxPayloadLen = *lo.MaxPayloadLen
		}
		if lo.RedactFields != nil {
			s.Observability.RedactFields = lo.RedactFields
		}
	}
	if ov.Execution != nil {
		eo := ov.Execution
		if eo.MaxWorkers != nil {
			s.Execution.MaxWorkers = eo.MaxWorkers
		}
		if eo.TimeoutS != nil {
			s.Execution.TimeoutS = eo.TimeoutS
		}
		if eo.GPU != nil {
			s.Execution.GPU = *eo.GPU
		}
	}
	return s
}

// decodeOverrides reads source fully and decodes it as JSON when it parses
// as JSON, falling back to YAML otherwise. The YAML path round-trips each
// document through JSON so the Override json tags apply to both formats.
func decodeOverrides(source io.Reader) ([]Override, error) {
	raw, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	var records []Override
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	var docs []map[string]any
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}
	through, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("normalize overrides: %w", err)
	}
	if err := json.Unmarshal(through, &records); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}
	return records, nil
}
