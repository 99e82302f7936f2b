package domain

import "errors"

var (
	ErrSessionRequired   = errors.New("session id is required")
	ErrURLRequired       = errors.New("url is required")
	ErrInvalidPackageURL = errors.New("could not determine a package id from the url")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotReady       = errors.New("job has not completed yet")
)
