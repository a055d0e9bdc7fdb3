// Package app holds the application services and business logic.
package app

import "errors"

var (
	// ErrInvalidPayload indicates a relay request without a method.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidCredential indicates a token that failed verification.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrPersistence indicates that a durable write or read failed.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidEmail indicates a login request without a usable email.
	ErrInvalidEmail = errors.New("invalid email")
)
