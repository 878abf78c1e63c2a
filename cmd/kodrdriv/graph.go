package main

import (
	"encoding/json"
	"os"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/calenvarek/kodrdriv/internal/pkggraph"
)

// packageFile is the on-disk shape of the graph input file: a flat list of
// packages with their dependency names, in either JSON or YAML.
type packageFile struct {
	Packages []pkggraph.Package `json:"packages" yaml:"packages"`
}

// loadGraph reads a package list from path (.json, .yaml, or .yml) and
// builds the validated dependency graph the executor runs against.
func loadGraph(path string) (*pkggraph.Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read graph file %s: %w", path, err)
	}

	var pf packageFile
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(b, &pf); err != nil {
			return nil, xerrors.Errorf("parse graph file %s as JSON: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(b, &pf); err != nil {
			return nil, xerrors.Errorf("parse graph file %s as YAML: %w", path, err)
		}
	}

	g, err := pkggraph.Build(pf.Packages)
	if err != nil {
		return nil, xerrors.Errorf("build dependency graph from %s: %w", path, err)
	}
	return g, nil
}
