package policy

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

//go:embed policy.yaml
var defaultPolicyYAML []byte

// ApprovalMode says whether executions of a capability need a human
// approval step.
type ApprovalMode string

const (
	ApprovalRequired ApprovalMode = "required"
	ApprovalExempt   ApprovalMode = "exempt"
)

// Metadata is the governance record for one capability.
type Metadata struct {
	Owner          string       `json:"owner,omitempty" yaml:"owner"`
	ApprovalMode   ApprovalMode `json:"approvalMode,omitempty" yaml:"approvalMode"`
	RollbackPlan   string       `json:"rollbackPlan,omitempty" yaml:"rollbackPlan"`
	EscalationPath string       `json:"escalationPath,omitempty" yaml:"escalationPath"`
}

// MetadataSet maps capability id to its governance record.
type MetadataSet map[string]Metadata

type policyFile struct {
	Version      int                 `json:"version"`
	Capabilities map[string]Metadata `json:"capabilities"`
}

// DefaultMetadata returns the metadata embedded in the binary.
func DefaultMetadata() (MetadataSet, error) {
	return ParseMetadata(defaultPolicyYAML)
}

// LoadMetadata reads a policy YAML file. An empty path returns the
// embedded default.
func LoadMetadata(path string) (MetadataSet, error) {
	if path == "" {
		return DefaultMetadata()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParseMetadata(data)
}

// ParseMetadata decodes policy YAML and validates it against the CUE
// schema. Unknown fields and approval modes other than required/exempt
// are rejected. A missing approvalMode defaults to required.
func ParseMetadata(data []byte) (MetadataSet, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse policy yaml: empty document")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile policy schema: %w", err)
	}

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#PolicyFile")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid policy file: %w", err)
	}

	var file policyFile
	if err := unified.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}

	out := make(MetadataSet, len(file.Capabilities))
	for id, m := range file.Capabilities {
		if m.ApprovalMode == "" {
			m.ApprovalMode = ApprovalRequired
		}
		out[id] = m
	}
	return out, nil
}
