// Package models defines the core data structures for exportd.
package models

import "errors"

// Common errors.
var (
	ErrValidation       = errors.New("validation failed")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrScheduleExists   = errors.New("schedule already exists")
	ErrClaimLost        = errors.New("claim token no longer held")
	ErrVersionConflict  = errors.New("schedule was modified concurrently")
	ErrInvalidStatus    = errors.New("invalid status transition")
)
