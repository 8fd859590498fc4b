package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/schedflow/pkg/schema"
)

// loadWorkflowFile reads a workflow definition from YAML or JSON.
// YAML is normalized through JSON so both formats share the schema's json tags.
func loadWorkflowFile(path string) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseWorkflow(data, strings.ToLower(filepath.Ext(path)))
}

func parseWorkflow(data []byte, ext string) (*schema.Workflow, error) {
	if ext != ".json" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if _, ok := doc.(map[string]any); !ok {
			return nil, fmt.Errorf("workflow document must be a mapping")
		}
		var err error
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("normalize yaml: %w", err)
		}
	}

	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return &wf, nil
}

// parseVars accepts a JSON object for run variables.
func parseVars(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, fmt.Errorf("vars must be a JSON object: %w", err)
	}
	return vars, nil
}
