package models

import "time"

// DirectoryEntry is the cached identity record for a campus user. Owned by
// the directory cache; read-only to every other component.
type DirectoryEntry struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"display_name"`
	Email             string     `json:"email,omitempty"`
	ProfilePictureURL string     `json:"profile_picture_url,omitempty"`
	Online            bool       `json:"online"`
	LastSeen          *time.Time `json:"last_seen,omitempty"`
}
