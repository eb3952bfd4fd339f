// Package spec defines the typed algorithm catalog: identity, schemas,
// entrypoints, execution and observability hints, and the thread-safe
// registry that keys specs by (name, version).
package spec

import (
	"fmt"
	"time"

	"github.com/bottomsky/algotirhm-sdk/algo"
)

// Kind classifies the broad category of an algorithm.
type Kind string

const (
	KindPrediction Kind = "Prediction"
	KindPrepare    Kind = "Prepare"
	KindProgramme  Kind = "Programme"
)

// Mode selects which executor dispatches a request for this spec.
type Mode string

const (
	ModeInProcess   Mode = "in_process"
	ModeProcessPool Mode = "process_pool"
)

// Entrypoint describes how to invoke an algorithm, either as a function
// (Run only) or as a class-style lifecycle (Initialize/Run/AfterRun/Shutdown).
type Entrypoint struct {
	// Identity is the stable, module-qualified reference used to reconstruct
	// the entrypoint inside a worker process. See package algo.
	Identity algo.Identity
	// IsClass distinguishes the class-based lifecycle entrypoint from the
	// bare-function entrypoint. When false only Run is meaningful.
	IsClass bool
}

// ExecutionHints carries dispatch and resource hints for a spec.
type ExecutionHints struct {
	Mode         Mode
	Stateful     bool
	IsolatedPool bool
	MaxWorkers   *int
	TimeoutS     *float64
	GPU          bool
}

// ObservabilityHints carries per-spec logging/sampling knobs. They are
// validated and can be patched by overrides; the observation recorder and
// the runners do not read them.
type ObservabilityHints struct {
	LoggingEnabled  bool
	LogInput        bool
	LogOutput       bool
	OnErrorOnly     bool
	SampleRate      float64
	MaxPayloadLen   int
	RedactFields    []string
}

// Metadata carries descriptive, non-behavioral information about a spec.
type Metadata struct {
	Description          string
	CreatedTime          time.Time
	Author               string
	Category             string
	ApplicationScenarios []string
	Extra                map[string]string
}

// Spec is the immutable, registered description of one algorithm version.
// Once registered a Spec is only ever replaced by an override merge: at
// registration (see Registry.Register) or when LoadOverrides patches an
// already-registered spec.
type Spec struct {
	Name    string
	Version string
	Kind    Kind

	InputSchema  []byte // JSON-Schema document
	OutputSchema []byte // JSON-Schema document

	Entrypoint Entrypoint
	// InputModel/OutputModel are zero-value instances of the typed Go models
	// used for coercion (see coerce.go in package envelope). They are
	// reflect.Type-bearing `any` rather than generics so the registry can
	// store heterogeneous specs in one map.
	InputModel  any
	OutputModel any

	Execution     ExecutionHints
	Observability ObservabilityHints
	Metadata      Metadata
}

// Key returns the (name, version) identity tuple used by Registry.
func (s Spec) Key() Key { return Key{Name: s.Name, Version: s.Version} }

// Key is the registry lookup key.
type Key struct {
	Name    string
	Version string
}

func (k Key) String() string { return k.Name + "@" + k.Version }

// Validate checks the invariants that must hold before a Spec can be
// registered: non-empty identity, a known Kind, reconstructible entrypoint,
// and well-formed observability/execution hints.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name must be non-empty", ErrValidation)
	}
	if s.Version == "" {
		return fmt.Errorf("%w: version must be non-empty", ErrValidation)
	}
	switch s.Kind {
	case KindPrediction, KindPrepare, KindProgramme:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, s.Kind)
	}
	if err := s.Entrypoint.Identity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if s.InputModel == nil || s.OutputModel == nil {
		return fmt.Errorf("%w: input and output models are required", ErrValidation)
	}
	if err := validateModelIdentity(s.InputModel); err != nil {
		return fmt.Errorf("%w: input model: %v", ErrValidation, err)
	}
	if err := validateModelIdentity(s.OutputModel); err != nil {
		return fmt.Errorf("%w: output model: %v", ErrValidation, err)
	}
	if s.Observability.SampleRate < 0 || s.Observability.SampleRate > 1 {
		return fmt.Errorf("%w: sample_rate must be in [0,1], got %v", ErrValidation, s.Observability.SampleRate)
	}
	if s.Observability.MaxPayloadLen < 0 {
		return fmt.Errorf("%w: max_payload_length must be >= 0", ErrValidation)
	}
	switch s.Execution.Mode {
	case ModeInProcess, ModeProcessPool:
	default:
		return fmt.Errorf("%w: unknown execution mode %q", ErrValidation, s.Execution.Mode)
	}
	if len(s.InputSchema) > 0 {
		if err := validateJSONSchema(s.InputSchema); err != nil {
			return fmt.Errorf("%w: input_schema: %v", ErrValidation, err)
		}
	}
	if len(s.OutputSchema) > 0 {
		if err := validateJSONSchema(s.OutputSchema); err != nil {
			return fmt.Errorf("%w: output_schema: %v", ErrValidation, err)
		}
	}
	return nil
}

// EffectiveTimeout applies the minimum rule: when a
// request-level timeout and this spec's timeout are both set, the effective
// timeout is the smaller of the two; when only one is set it wins; 0 is
// never treated as "unbounded" on either side.
func (s Spec) EffectiveTimeout(requestTimeoutS *float64) *float64 {
	spec := s.Execution.TimeoutS
	if requestTimeoutS == nil {
		return spec
	}
	if spec == nil {
		return requestTimeoutS
	}
	if *requestTimeoutS < *spec {
		return requestTimeoutS
	}
	return spec
}
