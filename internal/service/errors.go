package service

import "errors"

var (
	ErrUsernameTaken       = errors.New("username already exists")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

	// ErrInvalidInput is wrapped with the offending field.
	ErrInvalidInput      = errors.New("invalid input")
	ErrNoUpdatableFields = errors.New("no permitted fields to update")
	ErrAlreadyAssigned   = errors.New("project is already assigned to this user")
)
