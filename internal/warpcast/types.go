package warpcast

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("warpcast: not found")
	// ErrSendUnsuccessful is returned by Sender implementations that treat
	// success=false as an error.
	ErrSendUnsuccessful = errors.New("warpcast: send unsuccessful")
)

// APIError carries the first message of a response's errors array.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("warpcast: %s (status %d)", e.Message, e.Status)
	}
	return "warpcast: " + e.Message
}

type User struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type Verification struct {
	FID     int64  `json:"fid"`
	Address string `json:"address"`
}

// SendResult is what the direct-cast endpoint reports.
type SendResult struct {
	Success bool `json:"success"`
}

type apiErrors struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type meResponse struct {
	Result struct {
		User User `json:"user"`
	} `json:"result"`
}

type usersPage struct {
	Result struct {
		Users []User `json:"users"`
	} `json:"result"`
	Next *struct {
		Cursor string `json:"cursor"`
	} `json:"next"`
}

type verificationsResponse struct {
	Result struct {
		Verifications []Verification `json:"verifications"`
	} `json:"result"`
}

type userResponse struct {
	Result struct {
		User User `json:"user"`
	} `json:"result"`
}

type sendResponse struct {
	Result SendResult `json:"result"`
}

type sendRequest struct {
	RecipientFID   int64  `json:"recipientFid"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}
