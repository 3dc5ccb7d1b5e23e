// Package models holds the immutable snapshot records fetched from the
// origin store: collections, their uploads, and per-image observations.
package models

// Permission is one entry of a collection's permissions manifest. Field
// names mirror the manifest JSON stored alongside the collection.
type Permission struct {
	Username string `json:"usernameProperty"`
	Owner    bool   `json:"ownerProperty"`
	Read     bool   `json:"readProperty"`
	Upload   bool   `json:"uploadProperty"`
}

// Collection is a deployment collection as cached from the origin.
// Collections are replaced wholesale on refresh, never patched in place.
type Collection struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Bucket         string          `json:"bucket"`
	Organization   string          `json:"organization"`
	Email          string          `json:"email"`
	Description    string          `json:"description"`
	Permissions    *Permission     `json:"permissions"`
	AllPermissions []Permission    `json:"allPermissions"`
	Uploads        []UploadSummary `json:"uploads"`
}

// UploadSummary is the upload listing carried inside a collection snapshot.
// The full image inventory lives in the per-bucket Upload records.
type UploadSummary struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	ImagesCount       int    `json:"imagesCount"`
	ImagesWithSpecies int    `json:"imagesWithSpeciesCount"`
	Location          string `json:"location"`
	Key               string `json:"key"`
}

// PermissionIndex builds a username-keyed map over a set of permissions so
// repeated per-image or per-collection lookups avoid rescanning the list.
func PermissionIndex(perms []Permission) map[string]*Permission {
	idx := make(map[string]*Permission, len(perms))
	for i := range perms {
		idx[perms[i].Username] = &perms[i]
	}
	return idx
}
