package upload

import "encoding/json"

// NotificationTypeUpload is the type of message pushed to clients when an
// upload completes.
const NotificationTypeUpload = "upload"

// Notification is the message pushed to every connected client.
type Notification struct {
	Type string           `json:"type"`
	Data NotificationData `json:"data"`
}

type NotificationData struct {
	ContainerRef string `json:"containerRef"`
	ObjectKey    string `json:"objectKey"`
}

// NewNotification builds the upload notification for an event.
func NewNotification(e Event) Notification {
	return Notification{
		Type: NotificationTypeUpload,
		Data: NotificationData{
			ContainerRef: e.ContainerRef,
			ObjectKey:    e.ObjectKey,
		},
	}
}

// Encode renders the notification as UTF-8 JSON.
func (n Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}
