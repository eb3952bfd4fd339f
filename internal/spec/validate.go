package spec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrValidation is wrapped by every Spec validation failure so callers can
// classify it with errors.Is against the registry's error taxonomy.
var ErrValidation = errors.New("validation")

// validateModelIdentity rejects input/output models that are not
// reconstructible by stable identity: anonymous structs, function values,
// and unnamed types cannot be referred to from a child worker process, so
// they would silently break process_pool execution.
func validateModelIdentity(model any) error {
	t := reflect.TypeOf(model)
	if t == nil {
		return fmt.Errorf("model is nil")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return fmt.Errorf("model type %s has no stable name (anonymous struct?)", t.String())
	}
	if t.PkgPath() == "" {
		return fmt.Errorf("model type %s is not package-qualified", t.Name())
	}
	if strings.Contains(t.PkgPath(), ".func") {
		return fmt.Errorf("model type %s is a local/closure type", t.String())
	}
	return nil
}

// validateJSONSchema compiles the given document to confirm it is a
// structurally valid JSON-Schema. Compilation failure surfaces as a
// validation error at registration time rather than at first use.
func validateJSONSchema(doc []byte) error {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	const resourceURL = "mem://spec-schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, parsed); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	_, err = c.Compile(resourceURL)
	return err
}
