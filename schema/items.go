package schema

// ItemType distinguishes stored item kinds.
type ItemType string

const (
	// ItemProject is a project entry backed by a filesystem path.
	ItemProject ItemType = "project"
	// ItemPanel is a panel entry backed by a URL.
	ItemPanel ItemType = "panel"
)

// UnifiedItem is one stored project or panel entry. Optional fields are
// omitted from the persisted document when empty; unknown fields in older
// documents are ignored on load.
type UnifiedItem struct {
	ID                 string   `json:"id"`
	Type               ItemType `json:"type"`
	Name               string   `json:"name"`
	Icon               string   `json:"icon,omitempty"`
	URL                string   `json:"url,omitempty"`
	Path               string   `json:"path,omitempty"`
	RunCommand         string   `json:"runCommand,omitempty"`
	YoloMode           bool     `json:"yoloMode,omitempty"`
	RestrictedBranches []string `json:"restrictedBranches,omitempty"`
}

// Settings holds user preferences persisted alongside stored items. There is
// no schema versioning; missing fields fall back to defaults on load.
type Settings struct {
	Theme             string `json:"theme,omitempty"`
	FontSize          int    `json:"fontSize,omitempty"`
	NotificationsOn   *bool  `json:"notificationsOn,omitempty"`
	DefaultRunCommand string `json:"defaultRunCommand,omitempty"`
}

// NotificationsEnabled reports the effective notification preference.
func (s Settings) NotificationsEnabled() bool {
	if s.NotificationsOn == nil {
		return true
	}
	return *s.NotificationsOn
}
