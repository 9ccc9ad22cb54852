package validation

import (
	"fmt"
	"net/url"
	"strings"

	"fedrelay/internal/errors"
)

const (
	// MaxActivityIDLength bounds activity IDs; federation IDs are URIs and
	// anything longer is either broken or hostile.
	MaxActivityIDLength = 2048

	// MaxLocalUserIDLength bounds local user identifiers.
	MaxLocalUserIDLength = 256
)

// ValidateActivityID validates an activity identifier. IDs must be absolute
// https/http URIs so they are globally unique across the federation.
func ValidateActivityID(activityID string) error {
	if activityID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "activity ID cannot be empty")
	}

	if len(activityID) > MaxActivityIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("activity ID too long (max %d characters)", MaxActivityIDLength))
	}

	return validateFederationURI(activityID, "activity ID")
}

// ValidateActorURI validates a remote actor identifier.
func ValidateActorURI(actorURI string) error {
	if actorURI == "" {
		return errors.New(errors.ErrCodeInvalidInput, "actor URI cannot be empty")
	}

	if len(actorURI) > MaxActivityIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("actor URI too long (max %d characters)", MaxActivityIDLength))
	}

	return validateFederationURI(actorURI, "actor URI")
}

// ValidateInboxURL validates a delivery target.
func ValidateInboxURL(inboxURL string) error {
	if inboxURL == "" {
		return errors.New(errors.ErrCodeInvalidInput, "inbox URL cannot be empty")
	}

	return validateFederationURI(inboxURL, "inbox URL")
}

// ValidateLocalUserID validates a local user identifier: non-empty, bounded,
// and free of characters that would corrupt a constructed actor URI.
func ValidateLocalUserID(localUserID string) error {
	if localUserID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "local user ID cannot be empty")
	}

	if len(localUserID) > MaxLocalUserIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("local user ID too long (max %d characters)", MaxLocalUserIDLength))
	}

	if strings.ContainsAny(localUserID, "/?#@ \t\n\r") {
		return errors.New(errors.ErrCodeInvalidInput, "local user ID contains invalid characters")
	}

	return nil
}

// ValidateActivityType validates the activity type token.
func ValidateActivityType(activityType string) error {
	if activityType == "" {
		return errors.New(errors.ErrCodeInvalidInput, "activity type cannot be empty")
	}

	for _, char := range activityType {
		if (char < 'a' || char > 'z') && (char < 'A' || char > 'Z') {
			return errors.New(errors.ErrCodeInvalidInput, "activity type must be alphabetic")
		}
	}

	return nil
}

func validateFederationURI(raw, fieldName string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, fmt.Sprintf("%s is not a valid URI", fieldName))
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s must be an http(s) URI", fieldName))
	}
	if u.Host == "" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s must have a host", fieldName))
	}

	return nil
}
