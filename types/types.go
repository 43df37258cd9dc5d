package types

import (
	"time"
)

// ImageStatus is the lifecycle state an image service reports for an image.
type ImageStatus string

const (
	// ImageStatusQueued means the image identifier is reserved but no data
	// has been uploaded yet.
	ImageStatusQueued ImageStatus = "queued"

	// ImageStatusSaving means the raw image data is currently being uploaded.
	ImageStatusSaving ImageStatus = "saving"

	// ImageStatusActive means the image is fully available.
	ImageStatusActive ImageStatus = "active"

	// ImageStatusKilled means an error occurred while uploading the image
	// data and the image is not readable.
	ImageStatusKilled ImageStatus = "killed"

	// ImageStatusDeleted means the image is no longer available to use but
	// its record is retained.
	ImageStatusDeleted ImageStatus = "deleted"

	// ImageStatusPendingDelete means the image is scheduled for deletion.
	ImageStatusPendingDelete ImageStatus = "pending_delete"
)

// ImageVisibility controls which projects may see an image under the current
// image API. The legacy API expresses the same thing as a boolean is_public
// flag.
type ImageVisibility string

const (
	// ImageVisibilityPublic makes the image visible to all users.
	ImageVisibilityPublic ImageVisibility = "public"

	// ImageVisibilityPrivate restricts the image to the owning project.
	ImageVisibilityPrivate ImageVisibility = "private"
)

// ImageLocation is one storage location of the image data, with
// backend-specific metadata.
type ImageLocation struct {
	URL      string                 `json:"url"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ImageMetadata is the version-independent view of an image record. Both
// image API schemas translate to and from this one shape, so callers never
// see which API version served a request.
type ImageMetadata struct {
	ID              string
	Name            string
	Status          ImageStatus
	Owner           string
	IsPublic        bool
	DiskFormat      string
	ContainerFormat string

	// Size is the image data size in bytes. Records with no size report 0.
	Size    int64
	MinRAM  int
	MinDisk int

	// Checksum is only reported for active images.
	Checksum string

	CreatedAt *time.Time
	UpdatedAt *time.Time
	// DeletedAt is only reported for deleted images.
	DeletedAt *time.Time
	Deleted   bool

	// Locations and DirectURL are only populated when the caller explicitly
	// asked for image locations.
	Locations []ImageLocation
	DirectURL string

	// Location is write-only: a storage location to register for the image
	// data instead of uploading it.
	Location string

	// Properties holds the free-form image properties.
	Properties map[string]interface{}
}

// HasData reports whether the image has uploaded data associated with it.
func (m *ImageMetadata) HasData() bool {
	return m.Size > 0 && m.Status == ImageStatusActive
}

// Property returns the named free-form property, or nil.
func (m *ImageMetadata) Property(name string) interface{} {
	if m.Properties == nil {
		return nil
	}
	return m.Properties[name]
}
