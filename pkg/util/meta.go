package util

import (
	"errors"
	"fmt"

	"sigs.k8s.io/yaml"
)

const APIVersionV1Alpha1 = "medbench/v1alpha1"

// TypeMeta identifies the kind of a config document.
type TypeMeta struct {
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind"`
}

func (t *TypeMeta) GetAPIVersion() string {
	if t.APIVersion == "" {
		return APIVersionV1Alpha1
	}
	return t.APIVersion
}

func (t *TypeMeta) Validate(expectedKind string) error {
	err := ValidateAPIVersion(t.APIVersion)
	if t.Kind != expectedKind {
		err = errors.Join(err, fmt.Errorf("invalid kind '%s': expected '%s'", t.Kind, expectedKind))
	}
	return err
}

func ValidateAPIVersion(version string) error {
	switch version {
	case "", APIVersionV1Alpha1:
		return nil
	default:
		return fmt.Errorf("unknown apiVersion: '%s'", version)
	}
}

// UnmarshalWithKind decodes a YAML or JSON document into target after
// checking that its kind and apiVersion are the expected ones.
func UnmarshalWithKind(data []byte, target any, expectedKind string) error {
	var meta TypeMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return err
	}
	if err := meta.Validate(expectedKind); err != nil {
		return err
	}
	return yaml.Unmarshal(data, target)
}
