package glance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/imageservice/glance/internal/set"
	"github.com/imageservice/glance/types"
)

// defaultSchemaJSON is the image schema the service publishes by default.
// It is compiled in so translation works without a round-trip; a live copy
// can replace it via ImageService.RefreshSchema.
const defaultSchemaJSON = `{
	"name": "image",
	"properties": {
		"id": {"type": "string"},
		"name": {"type": ["null", "string"], "maxLength": 255},
		"status": {"type": "string", "readOnly": true},
		"visibility": {"enum": ["community", "public", "private", "shared"], "type": "string"},
		"protected": {"type": "boolean"},
		"checksum": {"type": ["null", "string"], "maxLength": 32, "readOnly": true},
		"owner": {"type": ["null", "string"], "maxLength": 255},
		"size": {"type": ["null", "integer"], "readOnly": true},
		"virtual_size": {"type": ["null", "integer"], "readOnly": true},
		"container_format": {"enum": [null, "ami", "ari", "aki", "bare", "ovf", "ova", "docker"], "type": ["null", "string"]},
		"disk_format": {"enum": [null, "ami", "ari", "aki", "vhd", "vhdx", "vmdk", "raw", "qcow2", "vdi", "iso", "ploop"], "type": ["null", "string"]},
		"created_at": {"type": "string", "readOnly": true},
		"updated_at": {"type": "string", "readOnly": true},
		"tags": {"type": "array", "items": {"type": "string", "maxLength": 255}},
		"direct_url": {"type": "string", "readOnly": true},
		"min_ram": {"type": "integer"},
		"min_disk": {"type": "integer"},
		"self": {"type": "string", "readOnly": true},
		"file": {"type": "string", "readOnly": true},
		"locations": {"type": "array"},
		"schema": {"type": "string", "readOnly": true}
	},
	"additionalProperties": {"type": ["null", "string"]}
}`

// Schema is the service-published description of the current image API
// record shape. It decides which record fields are base properties of the
// schema as opposed to free-form image properties, and validates outbound
// payloads the way the service itself would.
type Schema struct {
	raw       map[string]interface{}
	baseProps *set.Set[string]
	validator *gojsonschema.Schema
}

// newSchema builds a Schema from the raw document the service publishes at
// /v2/schemas/image.
func newSchema(raw map[string]interface{}) (*Schema, error) {
	props, ok := raw["properties"].(map[string]interface{})
	if !ok || len(props) == 0 {
		return nil, errors.New("image schema carries no properties")
	}
	baseProps := set.New[string]()
	for name := range props {
		baseProps.Add(name)
	}
	validator, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "compiling image schema")
	}
	return &Schema{raw: raw, baseProps: baseProps, validator: validator}, nil
}

func mustSchema(rawJSON string) *Schema {
	var doc map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(rawJSON))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		panic(err)
	}
	s, err := newSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

var defaultSchema = mustSchema(defaultSchemaJSON)

// DefaultSchema returns the compiled-in image schema.
func DefaultSchema() *Schema { return defaultSchema }

// IsBaseProperty reports whether name is a base property of the record
// shape rather than a free-form image property.
func (s *Schema) IsBaseProperty(name string) bool {
	return s.baseProps.Contains(name)
}

// validateFields checks an outbound payload against the schema, so broken
// requests fail here instead of as an opaque 400 from the service.
func (s *Schema) validateFields(fields map[string]interface{}) error {
	result, err := s.validator.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return errors.Wrap(err, "validating image fields")
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return &InvalidError{Err: errors.Errorf("image data does not match the image schema: %s", strings.Join(reasons, "; "))}
}

// prepareV2Fields renders image metadata for sending to the current API.
func prepareV2Fields(meta *types.ImageMetadata) (map[string]interface{}, error) {
	fields, err := prepareOutbound(meta)
	if err != nil {
		return nil, err
	}
	return convertToV2(fields), nil
}

// convertToV2 rewrites legacy-shaped outbound fields into the current
// schema: free-form properties move to the top level, the public flag
// becomes a visibility, and the provider-managed size and deleted
// attributes are dropped. The service only accepts strings (or null) for
// free-form properties, so other values are stringified; blank or "none"
// kernel and ramdisk references are omitted outright because the service
// rejects them.
func convertToV2(fields map[string]interface{}) map[string]interface{} {
	output := map[string]interface{}{}
	for name, value := range fields {
		switch name {
		case "properties":
			props, _ := value.(map[string]interface{})
			for propName, propValue := range props {
				if propName == "kernel_id" || propName == "ramdisk_id" {
					if s, ok := propValue.(string); ok {
						trimmed := strings.ToLower(strings.TrimSpace(s))
						if trimmed == "" || trimmed == "none" {
							continue
						}
					}
				}
				switch v := propValue.(type) {
				case nil:
					output[propName] = nil
				case string:
					output[propName] = v
				default:
					output[propName] = fmt.Sprintf("%v", v)
				}
			}
		case "min_ram", "min_disk":
			n, _ := asInt64(value)
			output[name] = n
		case "is_public":
			visibility := types.ImageVisibilityPrivate
			if b, _ := value.(bool); b {
				visibility = types.ImageVisibilityPublic
			}
			output["visibility"] = string(visibility)
		case "size", "deleted":
			// provider-managed under the current schema
		default:
			output[name] = value
		}
	}
	return output
}

// extractAttributesV2 builds the stable view of a raw current-schema
// record. The schema decides which fields are base properties; everything
// else lands in Properties. Fields the current API dropped (deletion state,
// formats of fresh records) default to their zero values.
func extractAttributesV2(record map[string]interface{}, schema *Schema, includeLocations bool) (*types.ImageMetadata, error) {
	meta := &types.ImageMetadata{Properties: map[string]interface{}{}}
	for name, value := range record {
		switch name {
		case "self", "schema", "protected", "virtual_size", "file", "tags":
			// not part of the stable view
		case "direct_url":
			if includeLocations {
				meta.DirectURL, _ = asString(value)
			}
		case "locations":
			if includeLocations {
				meta.Locations = parseLocations(value)
			}
		case "visibility":
			v, _ := asString(value)
			meta.IsPublic = v == string(types.ImageVisibilityPublic)
		case "size":
			// null sizes read as 0
			if size, ok := asInt64(value); ok {
				meta.Size = size
			}
		default:
			if schema.IsBaseProperty(name) {
				if err := assignV2BaseProperty(meta, name, value); err != nil {
					return nil, err
				}
			} else {
				meta.Properties[name] = value
			}
		}
	}
	if err := decodeEligibleProperties(meta.Properties); err != nil {
		return nil, err
	}
	return meta, nil
}

func assignV2BaseProperty(meta *types.ImageMetadata, name string, value interface{}) error {
	switch name {
	case "id":
		meta.ID, _ = asString(value)
	case "name":
		meta.Name, _ = asString(value)
	case "status":
		s, _ := asString(value)
		meta.Status = types.ImageStatus(s)
	case "owner":
		meta.Owner, _ = asString(value)
	case "checksum":
		meta.Checksum, _ = asString(value)
	case "disk_format":
		meta.DiskFormat, _ = asString(value)
	case "container_format":
		meta.ContainerFormat, _ = asString(value)
	case "min_ram":
		if v, ok := asInt64(value); ok {
			meta.MinRAM = int(v)
		}
	case "min_disk":
		if v, ok := asInt64(value); ok {
			meta.MinDisk = int(v)
		}
	case "created_at":
		t, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		meta.CreatedAt = t
	case "updated_at":
		t, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		meta.UpdatedAt = t
	default:
		// a base property the stable view has no slot for
		logrus.Debugf("Dropping unmapped base property %q from image record", name)
	}
	return nil
}
