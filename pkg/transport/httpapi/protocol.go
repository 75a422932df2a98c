// Package httpapi serves the capture lifecycle over HTTP and provides a
// client for it.
package httpapi

import (
	"fmt"
	"net/url"

	"github.com/modoterra/logcap/pkg/core"
)

// Route patterns registered by the daemon.
const (
	RouteAndroidStart = "GET /android/start"
	RouteIOSStart     = "GET /ios/start"
	RouteAndroidStop  = "GET /android/stop/{id}"
	RouteIOSStop      = "GET /ios/stop/{id}"
	RouteDownload     = "GET /download/{id}"
	RouteHealth       = "GET /healthz"
)

// MsgNotFound is the download route's 404 body.
const MsgNotFound = "File not found."

// Messages are the start and stop route texts of one platform.
type Messages struct {
	Started        string
	AlreadyRunning string
	NoActive       string
}

var platformMessages = map[core.Platform]Messages{
	core.PlatformAndroid: {
		Started:        "Logcat started",
		AlreadyRunning: "Logcat already running",
		NoActive:       "No active logcat process or invalid session ID.",
	},
	core.PlatformIOS: {
		Started:        "iOS syslog capture started",
		AlreadyRunning: "iOS syslog capture already running",
		NoActive:       "No active iOS process or invalid session ID.",
	},
}

// MessagesFor returns the route texts for p.
func MessagesFor(p core.Platform) Messages {
	return platformMessages[p]
}

// StartResponse is the body of the start routes.
type StartResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Started   bool   `json:"started"`
}

// HealthResponse is the body of the health route.
type HealthResponse struct {
	OK     bool              `json:"ok"`
	Active map[string]string `json:"active,omitempty"`
}

// StartPath returns the start route path for p.
func StartPath(p core.Platform) string {
	return fmt.Sprintf("/%s/start", p)
}

// StopPath returns the stop route path for session id on p.
func StopPath(p core.Platform, id string) string {
	return fmt.Sprintf("/%s/stop/%s", p, url.PathEscape(id))
}

// DownloadPath returns the download route path for session id.
func DownloadPath(id string) string {
	return "/download/" + url.PathEscape(id)
}
