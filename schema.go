package glance

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"

	"github.com/imageservice/glance/types"
)

// convertProps are properties whose values are stored JSON-encoded because
// the image service only accepts string property values.
var convertProps = []string{"block_device_mapping", "mappings"}

// encodeEligibleProperties JSON-encodes the stored-JSON properties that are
// not strings yet. The input map is left untouched.
func encodeEligibleProperties(props map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	for _, name := range convertProps {
		value, ok := out[name]
		if !ok {
			continue
		}
		if _, isString := value.(string); isString {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding image property %q", name)
		}
		out[name] = string(encoded)
	}
	return out, nil
}

// decodeEligibleProperties undoes encodeEligibleProperties on a received
// record, in place.
func decodeEligibleProperties(props map[string]interface{}) error {
	for _, name := range convertProps {
		raw, ok := props[name].(string)
		if !ok {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		var decoded interface{}
		if err := dec.Decode(&decoded); err != nil {
			return errors.Wrapf(err, "decoding image property %q", name)
		}
		props[name] = decoded
	}
	return nil
}

// parseTimestamp turns a service timestamp into a time. Both zoned RFC3339
// and the zoneless legacy format are accepted; absent and empty values
// parse to nil.
func parseTimestamp(value interface{}) (*time.Time, error) {
	raw, ok := asString(value)
	if !ok || raw == "" {
		return nil, nil
	}
	dt, err := strfmt.ParseDateTime(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing image timestamp %q", raw)
	}
	t := time.Time(dt)
	return &t, nil
}

// asString returns v when it is a string.
func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asInt64 normalizes the numeric representations a record can carry: JSON
// numbers, plain Go ints from the legacy header codec, and stray numeric
// strings.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// asBool reads the boolean representations a record can carry.
func asBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "True" || b == "1"
	}
	return false
}

// parseLocations reads a raw locations list into the stable shape. Entries
// that are not location objects are skipped.
func parseLocations(v interface{}) []types.ImageLocation {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	locations := make([]types.ImageLocation, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		loc := types.ImageLocation{}
		loc.URL, _ = m["url"].(string)
		if md, ok := m["metadata"].(map[string]interface{}); ok {
			loc.Metadata = md
		}
		locations = append(locations, loc)
	}
	return locations
}

// prepareOutbound renders the writable attributes shared by both schemas,
// with the stored-JSON properties encoded. Read-only attributes, the status
// and the timestamps, are never sent; zero-valued identity fields mean
// "absent" and are skipped.
func prepareOutbound(meta *types.ImageMetadata) (map[string]interface{}, error) {
	props, err := encodeEligibleProperties(meta.Properties)
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]interface{}{}
	}
	fields := map[string]interface{}{
		"properties": props,
		"is_public":  meta.IsPublic,
		"min_ram":    int64(meta.MinRAM),
		"min_disk":   int64(meta.MinDisk),
	}
	if meta.ID != "" {
		fields["id"] = meta.ID
	}
	if meta.Name != "" {
		fields["name"] = meta.Name
	}
	if meta.DiskFormat != "" {
		fields["disk_format"] = meta.DiskFormat
	}
	if meta.ContainerFormat != "" {
		fields["container_format"] = meta.ContainerFormat
	}
	if meta.Owner != "" {
		fields["owner"] = meta.Owner
	}
	if meta.Checksum != "" {
		fields["checksum"] = meta.Checksum
	}
	if meta.Location != "" {
		fields["location"] = meta.Location
	}
	if meta.Size > 0 {
		fields["size"] = meta.Size
	}
	return fields, nil
}
