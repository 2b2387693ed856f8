package oidc

import "errors"

var (
	// ErrDiscovery is returned when the provider discovery document cannot be fetched or is incomplete.
	ErrDiscovery = errors.New("provider discovery failed")
	// ErrJwks is returned when the provider key set cannot be fetched or contains no usable key.
	ErrJwks = errors.New("provider key set unavailable")
	// ErrUnsupportedVerificationMode is returned when introspection is configured but the provider does not offer it.
	ErrUnsupportedVerificationMode = errors.New("provider does not advertise an introspection endpoint")
)
