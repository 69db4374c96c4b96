package handler

import "net/http"

// Manifest metadata served to the Mattermost app framework.
const (
	appID          = "oncall-bridge"
	appVersion     = "1.0.0"
	appDisplayName = "OnCall Bridge"
	appDescription = "On-call bridge app for sending and receiving events from Mattermost"
	appHomepage    = "https://github.com/oncallhq/mmbridge"
)

// ManifestHandler serves the static app manifest that Mattermost fetches
// during installation. The manifest re-embeds the caller's verification
// token into each callback's state so the callbacks can authenticate with
// the same credential.
type ManifestHandler struct {
	webhookHost string
}

// NewManifestHandler creates a ManifestHandler. webhookHost is the public
// root URL Mattermost will call back on.
func NewManifestHandler(webhookHost string) *ManifestHandler {
	return &ManifestHandler{webhookHost: webhookHost}
}

// GetManifest handles GET /mattermost/manifest. The token was already
// verified by the middleware; it is read again here only to echo it back
// into the callback state fields.
func (h *ManifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	authToken := r.URL.Query().Get("auth_token")
	writeJSON(w, http.StatusOK, h.buildManifest(authToken))
}

func (h *ManifestHandler) buildManifest(authToken string) map[string]interface{} {
	return map[string]interface{}{
		"app_id":                appID,
		"version":               appVersion,
		"display_name":          appDisplayName,
		"description":           appDescription,
		"homepage_url":          appHomepage,
		"requested_permissions": []string{"act_as_bot"},
		"requested_locations":   []string{"/in_post", "/post_menu", "/command"},
		"on_install": map[string]interface{}{
			"path":   "/mattermost/install",
			"expand": map[string]string{"app": "summary", "acting_user": "summary"},
			"state":  map[string]string{"auth_token": authToken},
		},
		"bindings": map[string]interface{}{
			"path":  "/mattermost/bindings",
			"state": map[string]string{"auth_token": authToken},
		},
		"http": map[string]interface{}{
			"root_url": h.webhookHost,
		},
	}
}
