package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/delaneyj/nodewatch/pattern"
	"github.com/delaneyj/nodewatch/tree"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var errNoMatch = errors.New("no node matches")

// Script is a list of mutations applied to the page, in order:
//
//	steps:
//	  - op: append
//	    target: "#movie_player"
//	    html: <div class="ad-showing"><button class="skip">Skip</button></div>
//	  - op: sleep
//	    value: 500ms
//	  - op: set-attr
//	    target: .skip
//	    name: aria-hidden
//	    value: "true"
type Script struct {
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

type Step struct {
	Op     string `yaml:"op" validate:"required,oneof=append remove set-attr remove-attr add-class remove-class set-text set-rule sleep flush"`
	Target string `yaml:"target"`
	HTML   string `yaml:"html"`
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateStep, Step{})
	return v
}

// validateStep checks the fields each op needs.
func validateStep(sl validator.StructLevel) {
	s := sl.Current().Interface().(Step)

	switch s.Op {
	case "append", "remove", "set-attr", "remove-attr", "add-class", "remove-class", "set-text":
		if s.Target == "" {
			sl.ReportError(s.Target, "Target", "target", "required", s.Op)
		} else if _, err := pattern.Parse(s.Target); err != nil {
			sl.ReportError(s.Target, "Target", "target", "pattern", s.Op)
		}
	}

	switch s.Op {
	case "append":
		if s.HTML == "" {
			sl.ReportError(s.HTML, "HTML", "html", "required", s.Op)
		}
	case "set-attr", "remove-attr", "add-class", "remove-class", "set-rule":
		if s.Name == "" {
			sl.ReportError(s.Name, "Name", "name", "required", s.Op)
		}
	case "sleep":
		if _, err := time.ParseDuration(s.Value); err != nil {
			sl.ReportError(s.Value, "Value", "value", "duration", s.Op)
		}
	}
}

func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return ReadScript(f)
}

func ReadScript(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}

// Delay is how long a sleep step pauses. It is zero for every other op.
func (s Step) Delay() time.Duration {
	if s.Op != "sleep" {
		return 0
	}
	d, _ := time.ParseDuration(s.Value)
	return d
}

// Apply performs the mutation of the step on doc. Targets are resolved
// against the whole document, the first match wins.
func (s Step) Apply(doc *tree.Document) error {
	switch s.Op {
	case "sleep", "flush":
		return nil
	case "set-rule":
		doc.SetRule(s.Name, s.Value)
		return nil
	}

	target, err := s.target(doc)
	if err != nil {
		return err
	}

	switch s.Op {
	case "append":
		nodes, err := doc.ParseFragment(s.HTML)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if err := target.AppendChild(n); err != nil {
				return fmt.Errorf("append to %s: %w", s.Target, err)
			}
		}
	case "remove":
		target.Remove()
	case "set-attr":
		target.SetAttr(s.Name, s.Value)
	case "remove-attr":
		target.RemoveAttr(s.Name)
	case "add-class":
		target.AddClass(s.Name)
	case "remove-class":
		target.RemoveClass(s.Name)
	case "set-text":
		if err := target.ReplaceChildren(doc.CreateText(s.Value)); err != nil {
			return fmt.Errorf("set text of %s: %w", s.Target, err)
		}
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

func (s Step) target(doc *tree.Document) (*tree.Element, error) {
	p, err := pattern.Parse(s.Target)
	if err != nil {
		return nil, err
	}
	for _, n := range pattern.SelfOrMatchingDescendants(doc.Root(), p) {
		if e, ok := n.(*tree.Element); ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w %s", errNoMatch, s.Target)
}
