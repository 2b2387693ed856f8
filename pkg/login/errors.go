package login

import "errors"

var (
	ErrMissingState           = errors.New("callback without state")
	ErrCodeExpired            = errors.New("code expired, login again")
	ErrMissingOriginalRequest = errors.New("login state does not describe the original request")
	ErrProviderRejected       = errors.New("provider rejected the authorization request")
	ErrTokenExchange          = errors.New("token exchange failed")
	ErrSession                = errors.New("unable to establish session")
)
