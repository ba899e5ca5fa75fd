// Package device holds the client-side domain model of a registered device:
// its persisted state, the jobs queued for the device API and the storage
// contracts both are kept behind.
package device

import (
	"crypto/md5"
	"encoding/hex"
	"slices"
	"strings"
)

// Metadata describes the SDK build running on the device.
type Metadata struct {
	SDKVersion string `json:"sdkVersion"`
	// OSVersion travels as androidVersion on the device API.
	OSVersion string `json:"androidVersion"`
}

// State is everything the SDK remembers about a device between runs.
type State struct {
	DeviceID    string
	DeviceToken string
	UserID      string
	OSVersion   string
	SDKVersion  string

	// ServerConfirmedInterestsHash is InterestsHash of the last interest set
	// the device API acknowledged.
	ServerConfirmedInterestsHash string

	Interests          []string
	StartHasBeenCalled bool
}

// Registered reports whether the device API has issued a device id.
func (s *State) Registered() bool {
	return s.DeviceID != ""
}

func (s *State) HasInterest(interest string) bool {
	return slices.Contains(s.Interests, interest)
}

// AddInterest reports whether the set changed.
func (s *State) AddInterest(interest string) bool {
	if s.HasInterest(interest) {
		return false
	}
	s.Interests = append(s.Interests, interest)
	slices.Sort(s.Interests)
	return true
}

// RemoveInterest reports whether the set changed.
func (s *State) RemoveInterest(interest string) bool {
	i := slices.Index(s.Interests, interest)
	if i < 0 {
		return false
	}
	s.Interests = slices.Delete(s.Interests, i, i+1)
	return true
}

// ReplaceInterests reports whether the set changed.
func (s *State) ReplaceInterests(interests []string) bool {
	next := NormalizeInterests(interests)
	if slices.Equal(next, s.Interests) {
		return false
	}
	s.Interests = next
	return true
}

// SubscriptionsCopy returns the interests in sorted order, never nil.
func (s *State) SubscriptionsCopy() []string {
	out := make([]string, len(s.Interests))
	copy(out, s.Interests)
	return out
}

// NormalizeInterests sorts and deduplicates a set of interest names.
func NormalizeInterests(interests []string) []string {
	out := make([]string, 0, len(interests))
	out = append(out, interests...)
	slices.Sort(out)
	return slices.Compact(out)
}

// InterestsHash fingerprints an interest set independently of order.
func InterestsHash(interests []string) string {
	sum := md5.Sum([]byte(strings.Join(NormalizeInterests(interests), ", ")))
	return hex.EncodeToString(sum[:])
}
