package models

// PushSubscription describes an active push subscription as registered with
// the server. It lives only for the current session; the push platform is
// the source of truth for whether the device is subscribed, so nothing here
// is persisted.
type PushSubscription struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dhKey"`
	AuthKey   string `json:"authKey"`
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
}

// PushPermission mirrors the platform notification permission states
type PushPermission string

const (
	PushPermissionDefault PushPermission = "default"
	PushPermissionGranted PushPermission = "granted"
	PushPermissionDenied  PushPermission = "denied"
)

// PushStatus is the synchronously computed subscription state for the UI
type PushStatus struct {
	Supported  bool           `json:"supported"`
	Permission PushPermission `json:"permission"`
	Subscribed bool           `json:"subscribed"`
}
