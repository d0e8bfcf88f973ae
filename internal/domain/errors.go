package domain

import "errors"

var (
	ErrNotFound       = errors.New("item not found")
	ErrRunning        = errors.New("pipeline is running")
	ErrInvalidLocator = errors.New("locator is required")
	ErrInvalidQuality = errors.New("unsupported quality tier")

	// Resolution stage. Transient and permanent resolver failures share this
	// sentinel; the pool only counts attempts.
	ErrResolutionFailed = errors.New("resolution failed")

	// Transfer stage.
	ErrExpiredURL            = errors.New("resolved URL invalid or expired")
	ErrResourceNotFound      = errors.New("resource not found")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrStagingRelocation     = errors.New("staging relocation failed")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)
