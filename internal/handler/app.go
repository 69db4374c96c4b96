package handler

import (
	"fmt"
	"net/http"

	"github.com/oncallhq/mmbridge/internal/server/middleware"
	"github.com/oncallhq/mmbridge/internal/store"
)

// connectedText is the confirmation shown inside Mattermost after install.
const connectedText = "Done! <b>%s</b> successfully installed and linked with organization <b>%s</b> 🎉"

// AppHandler serves the Mattermost app framework callbacks (install,
// bindings). Both are authenticated through the token embedded in the
// callback's state field.
type AppHandler struct {
	store *store.Store
}

// NewAppHandler creates an AppHandler.
func NewAppHandler(s *store.Store) *AppHandler {
	return &AppHandler{store: s}
}

// Install handles POST /mattermost/install, acknowledging the app install.
// Bot-user provisioning for the installing workspace is not implemented yet;
// the callback only confirms the link back to the installer.
func (h *AppHandler) Install(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Context struct {
			App struct {
				AppID string `json:"app_id"`
			} `json:"app"`
		} `json:"context"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	record := middleware.GetAuthToken(r.Context())
	orgTitle := ""
	if org, err := h.store.GetOrganization(r.Context(), record.OrganizationID); err == nil {
		orgTitle = org.Title
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"type": "ok",
		"text": fmt.Sprintf(connectedText, body.Context.App.AppID, orgTitle),
	})
}

// Bindings handles POST /mattermost/bindings. Slash commands and post menu
// bindings are not implemented yet; the callback acknowledges so the app
// framework treats the install as healthy.
func (h *AppHandler) Bindings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"type": "ok"})
}
