package glance

import (
	"github.com/imageservice/glance/types"
)

// prepareV1Fields renders image metadata for sending to the legacy API.
// The legacy schema is the shared writable shape as is.
func prepareV1Fields(meta *types.ImageMetadata) (map[string]interface{}, error) {
	return prepareOutbound(meta)
}

// extractAttributesV1 builds the stable view of a raw legacy record.
//
// Some attributes depend on others: deleted_at is only trusted for deleted
// images, a checksum only for active ones. Queued records legitimately miss
// their name and formats, so absence there is not an error. Locations stay
// out of the result unless the caller asked for them.
func extractAttributesV1(record map[string]interface{}, includeLocations bool) (*types.ImageMetadata, error) {
	meta := &types.ImageMetadata{Properties: map[string]interface{}{}}

	if status, ok := asString(record["status"]); ok {
		meta.Status = types.ImageStatus(status)
	}
	if id, ok := asString(record["id"]); ok {
		meta.ID = id
	}
	if name, ok := asString(record["name"]); ok {
		meta.Name = name
	}
	if v, ok := asString(record["disk_format"]); ok {
		meta.DiskFormat = v
	}
	if v, ok := asString(record["container_format"]); ok {
		meta.ContainerFormat = v
	}
	if v, ok := asString(record["owner"]); ok {
		meta.Owner = v
	}
	// a missing or null size reads as 0
	if size, ok := asInt64(record["size"]); ok {
		meta.Size = size
	}
	if v, ok := asInt64(record["min_ram"]); ok {
		meta.MinRAM = int(v)
	}
	if v, ok := asInt64(record["min_disk"]); ok {
		meta.MinDisk = int(v)
	}
	meta.IsPublic = asBool(record["is_public"])
	meta.Deleted = asBool(record["deleted"])

	if meta.Status == types.ImageStatusActive {
		if v, ok := asString(record["checksum"]); ok {
			meta.Checksum = v
		}
	}

	var err error
	if meta.CreatedAt, err = parseTimestamp(record["created_at"]); err != nil {
		return nil, err
	}
	if meta.UpdatedAt, err = parseTimestamp(record["updated_at"]); err != nil {
		return nil, err
	}
	if meta.Deleted {
		if meta.DeletedAt, err = parseTimestamp(record["deleted_at"]); err != nil {
			return nil, err
		}
	}

	if includeLocations {
		meta.DirectURL, _ = asString(record["direct_url"])
		meta.Locations = parseLocations(record["locations"])
	}

	if props, ok := record["properties"].(map[string]interface{}); ok {
		for k, v := range props {
			meta.Properties[k] = v
		}
	}
	if err := decodeEligibleProperties(meta.Properties); err != nil {
		return nil, err
	}
	return meta, nil
}
