package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNonMonotonicTime is returned when a merged time coordinate is not strictly increasing.
	ErrNonMonotonicTime = errors.New("merged time coordinate is not strictly increasing")
	// ErrChecksumMismatch marks a downloaded file whose digest differs from the catalogue.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrAllSourcesFailed is returned when no replica could deliver a file.
	ErrAllSourcesFailed = errors.New("all download sources failed")
)

// InvalidRootError is returned when a traversal root does not end in a known activity.
type InvalidRootError struct {
	Path    string
	Allowed []string
}

func (e *InvalidRootError) Error() string {
	return fmt.Sprintf("invalid archive root %q: last path segment must be one of %s", e.Path, strings.Join(e.Allowed, ", "))
}

// MalformedFilenameError reports a chunk file name without a usable YYYYMM-YYYYMM token.
type MalformedFilenameError struct {
	Name   string
	Reason string
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("malformed chunk filename %q: %s", e.Name, e.Reason)
}

type UnknownExperimentError struct {
	Experiment string
}

func (e *UnknownExperimentError) Error() string {
	return fmt.Sprintf("unknown experiment %q", e.Experiment)
}

// ChunkOrderError is returned when chunk files overlap or are out of order.
// Merging such a sequence would corrupt the time axis.
type ChunkOrderError struct {
	File   string
	Reason string
}

func (e *ChunkOrderError) Error() string {
	return fmt.Sprintf("chunk %s rejected: %s", e.File, e.Reason)
}

// DuplicateVersionsError is returned when a dataset has more than one version
// directory where exactly one is required.
type DuplicateVersionsError struct {
	Dir      string
	Versions []string
}

func (e *DuplicateVersionsError) Error() string {
	return fmt.Sprintf("%s has %d versions (%s), expected one", e.Dir, len(e.Versions), strings.Join(e.Versions, ", "))
}

func IsInvalidRootError(err error) bool {
	var target *InvalidRootError
	return errors.As(err, &target)
}

// IsMalformedFilenameError checks if an error is a MalformedFilenameError.
func IsMalformedFilenameError(err error) bool {
	var target *MalformedFilenameError
	return errors.As(err, &target)
}

func IsUnknownExperimentError(err error) bool {
	var target *UnknownExperimentError
	return errors.As(err, &target)
}

// IsChunkOrderError checks if an error is a ChunkOrderError.
func IsChunkOrderError(err error) bool {
	var target *ChunkOrderError
	return errors.As(err, &target)
}

func IsDuplicateVersionsError(err error) bool {
	var target *DuplicateVersionsError
	return errors.As(err, &target)
}

// IsConfigurationError reports errors that are fatal for a whole run.
func IsConfigurationError(err error) bool {
	return IsInvalidRootError(err) || IsUnknownExperimentError(err)
}
