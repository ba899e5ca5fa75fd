// Package validation checks the user-supplied names the push notifications
// SDK forwards to the device API: interest names and instance ids.
//
// The checks are pure and carry no state, so they are shared by the pushlint
// analyzer and by hosts that want to reject bad input before calling the SDK.
package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxInterestLength is the longest interest name the device API accepts.
const MaxInterestLength = 164

// AllowedInterestCharacters lists the punctuation an interest name may use
// alongside ASCII letters and digits.
const AllowedInterestCharacters = "_-=@,.;"

var interestPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-=@,.;]+$`)

// Kind identifies which rule a value broke.
type Kind int

const (
	KindInvalidInstanceID Kind = iota + 1
	KindInterestTooLong
	KindInvalidInterestCharacters
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInstanceID:
		return "BadPushNotificationsInstanceId"
	case KindInterestTooLong:
		return "PushNotificationsInterestNameTooLong"
	case KindInvalidInterestCharacters:
		return "BadPushNotificationsInterestName"
	default:
		return "Unknown"
	}
}

// Error reports a rejected value. Message is written for the person who typed
// the value, so it is surfaced unchanged by pushlint.
type Error struct {
	Kind    Kind
	Value   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// InterestLength counts characters, not bytes.
func InterestLength(interest string) int {
	return utf8.RuneCountInString(interest)
}

// CheckInterestLength rejects interest names longer than MaxInterestLength.
func CheckInterestLength(interest string) error {
	n := InterestLength(interest)
	if n <= MaxInterestLength {
		return nil
	}
	return &Error{
		Kind:  KindInterestTooLong,
		Value: interest,
		Message: fmt.Sprintf(
			"This interest name is too long (%d characters). It can only have at most %d characters.",
			n, MaxInterestLength),
	}
}

// CheckInterestCharacters rejects empty names and names using anything outside
// the allowed alphabet.
func CheckInterestCharacters(interest string) error {
	if interestPattern.MatchString(interest) {
		return nil
	}
	return &Error{
		Kind:  KindInvalidInterestCharacters,
		Value: interest,
		Message: "This interest name contains invalid characters. " +
			"It can only be ASCII upper/lower-case letters, numbers and one of " + AllowedInterestCharacters,
	}
}

// ValidateInterest applies the length rule, then the character rule.
func ValidateInterest(interest string) error {
	if err := CheckInterestLength(interest); err != nil {
		return err
	}
	return CheckInterestCharacters(interest)
}

// ValidateInstanceID accepts only the canonical 8-4-4-4-12 textual UUID form.
// The error message carries a freshly generated example id.
func ValidateInstanceID(instanceID string) error {
	if len(instanceID) == 36 {
		if _, err := uuid.Parse(instanceID); err == nil {
			return nil
		}
	}
	return &Error{
		Kind:  KindInvalidInstanceID,
		Value: instanceID,
		Message: fmt.Sprintf(
			"The instance id argument looks incorrect. It should be something like '%s'.",
			uuid.NewString()),
	}
}

// SanitizeInterest drops every character the character rule rejects and trims
// the result to MaxInterestLength. It backs pushlint's suggested fixes.
func SanitizeInterest(interest string) string {
	out := make([]rune, 0, len(interest))
	for _, r := range interest {
		if r < utf8.RuneSelf && interestPattern.MatchString(string(r)) {
			out = append(out, r)
		}
		if len(out) == MaxInterestLength {
			break
		}
	}
	return string(out)
}
