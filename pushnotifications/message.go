package pushnotifications

import (
	"encoding/json"
)

// Message is a push message as handed over by the messaging layer.
type Message struct {
	From         string
	Data         map[string]string
	Notification *Notification
}

type Notification struct {
	Title string
	Body  string
}

const (
	tokenValidationKey = "pusherTokenValidation"
	pusherDataKey      = "pusher"
)

// isTokenValidation reports a blank message sent only to check the token.
func (m Message) isTokenValidation() bool {
	return m.Data[tokenValidationKey] == "true"
}

type pusherData struct {
	InstanceID string `json:"instanceId"`
	PublishID  string `json:"publishId"`
}

// PublishID extracts the publish id from the "pusher" data entry.
func (m Message) PublishID() (string, bool) {
	raw, ok := m.Data[pusherDataKey]
	if !ok {
		return "", false
	}
	var pd pusherData
	if err := json.Unmarshal([]byte(raw), &pd); err != nil || pd.PublishID == "" {
		return "", false
	}
	return pd.PublishID, true
}
