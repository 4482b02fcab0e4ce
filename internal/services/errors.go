package services

import "errors"

var (
	// ErrLaunchFailed is returned when a container could not be started.
	ErrLaunchFailed = errors.New("service launch failed")

	// ErrUnknownService is returned for a service name with no configuration.
	ErrUnknownService = errors.New("unknown service")

	// ErrToolMissing is returned when a required external binary is not on
	// PATH.
	ErrToolMissing = errors.New("required tool missing")
)
