package service

import "errors"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenRevoked         = errors.New("token revoked")
	ErrUserInactive         = errors.New("user is inactive")
	ErrUserDisabled         = errors.New("user is disabled")
	ErrInvalidRequest       = errors.New("invalid request")
)
