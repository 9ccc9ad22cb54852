package constants

// Default timeout values used by client packages
const (
	DefaultHTTPTimeoutSec = 30
)

// ActivityPub media types
const (
	ContentTypeActivityJSON = "application/activity+json"
)
