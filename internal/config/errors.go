package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrSourceNotFound     = errors.New("source not found")
	ErrParse              = errors.New("parse error")
	ErrReferenceNotFound  = errors.New("reference not found")
	ErrInheritanceCycle   = errors.New("inheritance cycle")
	ErrAmbiguousBlueprint = errors.New("ambiguous blueprint reference")
	ErrMismatchedVersion  = errors.New("mismatched version")
	ErrFabfileNotFound    = errors.New("fabfile not found")
	ErrHostNotFound       = errors.New("host not found")
)

// SourceNotFoundError is returned when a file or URL cannot be read.
type SourceNotFoundError struct {
	Ref string
	Err error
}

func (e *SourceNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not load %q: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("could not load %q", e.Ref)
}

func (e *SourceNotFoundError) Unwrap() []error { return []error{ErrSourceNotFound, e.Err} }

// ParseError carries the location of a YAML syntax problem.
type ParseError struct {
	Source string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	loc := e.Source
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	return fmt.Sprintf("could not parse %s: %v", loc, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

var yamlLineRe = regexp.MustCompile(`line (\d+)(?:, column (\d+))?`)

func newParseError(source string, err error) *ParseError {
	pe := &ParseError{Source: source, Err: err}
	if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			pe.Column, _ = strconv.Atoi(m[2])
		}
	}
	return pe
}

// ReferenceNotFoundError is returned for a named reference without a target.
type ReferenceNotFoundError struct {
	Ref       string
	Namespace string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("could not find %q in %s", e.Ref, e.Namespace)
}

func (e *ReferenceNotFoundError) Is(target error) bool { return target == ErrReferenceNotFound }

// CycleError lists the reference chain that revisited an entry.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("inheritance cycle: %q appears twice in chain %s",
		e.Chain[len(e.Chain)-1], strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrInheritanceCycle }

// AmbiguousBlueprintError is returned for an unqualified blueprint reference
// while more than one namespace declares blueprints.
type AmbiguousBlueprintError struct {
	Ref        string
	Namespaces []string
}

func (e *AmbiguousBlueprintError) Error() string {
	return fmt.Sprintf("blueprint reference %q is ambiguous, use one of %s",
		e.Ref, strings.Join(qualify(e.Ref, e.Namespaces), ", "))
}

func (e *AmbiguousBlueprintError) Is(target error) bool { return target == ErrAmbiguousBlueprint }

func qualify(ref string, namespaces []string) []string {
	out := make([]string, len(namespaces))
	for i, ns := range namespaces {
		out[i] = ns + ":" + ref
	}
	return out
}

// ResolutionError wraps a failure with the chain of references being resolved.
type ResolutionError struct {
	Chain []string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s (while resolving %s)", e.Err, strings.Join(e.Chain, " -> "))
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type MismatchedVersionError struct {
	Required string
	Actual   string
}

func (e *MismatchedVersionError) Error() string {
	return fmt.Sprintf("configuration requires version %s, this is %s, please upgrade", e.Required, e.Actual)
}

func (e *MismatchedVersionError) Is(target error) bool { return target == ErrMismatchedVersion }

type FabfileNotFoundError struct {
	Dir string
}

func (e *FabfileNotFoundError) Error() string {
	return fmt.Sprintf("could not find a fabfile in %s or its parents", e.Dir)
}

func (e *FabfileNotFoundError) Is(target error) bool { return target == ErrFabfileNotFound }

type HostNotFoundError struct {
	Name string
}

func (e *HostNotFoundError) Error() string {
	return fmt.Sprintf("could not find host-config %q", e.Name)
}

func (e *HostNotFoundError) Is(target error) bool { return target == ErrHostNotFound }
