// Package common holds the error kinds shared by the store, auth and api layers.
package common

import "errors"

var (
	// repository specific errors
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// auth specific errors
	ErrorInvalidCredential   = errors.New("invalid credential")
	ErrorAuthorizationFailed = errors.New("authorization failed")
	ErrorNoPermission        = errors.New("no permission")

	// request specific errors
	ErrorMissingField       = errors.New("required argument missing")
	ErrorInvalidRequest     = errors.New("invalid data in request")
	ErrorRequirementNotMet  = errors.New("requirement not met")
	ErrorInvalidRoom        = errors.New("invalid room")
	ErrorSigningKeyMissing  = errors.New("signing key is not configured")
	ErrorUnknownStoreDriver = errors.New("unknown store driver")
)
