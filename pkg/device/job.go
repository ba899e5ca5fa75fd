package device

// JobType labels a queued job. The values are persisted, so they never change.
type JobType string

const (
	JobStart            JobType = "StartJob"
	JobRefreshToken     JobType = "RefreshTokenJob"
	JobSubscribe        JobType = "SubscribeJob"
	JobUnsubscribe      JobType = "UnsubscribeJob"
	JobSetSubscriptions JobType = "SetSubscriptionsJob"
	JobApplicationStart JobType = "ApplicationStartJob"
	JobSetUserID        JobType = "SetUserIdJob"
	JobStop             JobType = "StopJob"
)

// Job is one unit of work for the device API. Only the fields relevant to
// Type are set.
type Job struct {
	Type JobType `json:"type"`

	// Token is the messaging token for Start and the new token for RefreshToken.
	Token                  string   `json:"token,omitempty"`
	KnownPreviousClientIDs []string `json:"knownPreviousClientIds,omitempty"`

	Interest  string    `json:"interest,omitempty"`
	Interests []string  `json:"interests,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	UserID    string    `json:"userId,omitempty"`
}

func StartJob(token string, knownPreviousClientIDs []string) Job {
	return Job{Type: JobStart, Token: token, KnownPreviousClientIDs: knownPreviousClientIDs}
}

func RefreshTokenJob(newToken string) Job {
	return Job{Type: JobRefreshToken, Token: newToken}
}

func SubscribeJob(interest string) Job {
	return Job{Type: JobSubscribe, Interest: interest}
}

func UnsubscribeJob(interest string) Job {
	return Job{Type: JobUnsubscribe, Interest: interest}
}

func SetSubscriptionsJob(interests []string) Job {
	return Job{Type: JobSetSubscriptions, Interests: NormalizeInterests(interests)}
}

func ApplicationStartJob(md Metadata) Job {
	return Job{Type: JobApplicationStart, Metadata: &md}
}

func SetUserIDJob(userID string) Job {
	return Job{Type: JobSetUserID, UserID: userID}
}

func StopJob() Job {
	return Job{Type: JobStop}
}
