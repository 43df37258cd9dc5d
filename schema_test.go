package glance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imageservice/glance/types"
)

func TestParseTimestamp(t *testing.T) {
	for _, c := range []struct {
		value    interface{}
		expected *time.Time
	}{
		{nil, nil},
		{"", nil},
		{"2010-10-11T10:30:22.000000", timePtr(time.Date(2010, 10, 11, 10, 30, 22, 0, time.UTC))},
		{"2015-08-31T19:37:41Z", timePtr(time.Date(2015, 8, 31, 19, 37, 41, 0, time.UTC))},
		{"2015-08-31T19:37:41.000000Z", timePtr(time.Date(2015, 8, 31, 19, 37, 41, 0, time.UTC))},
	} {
		parsed, err := parseTimestamp(c.value)
		require.NoError(t, err, "%v", c.value)
		if c.expected == nil {
			assert.Nil(t, parsed, "%v", c.value)
		} else {
			require.NotNil(t, parsed, "%v", c.value)
			assert.True(t, c.expected.Equal(*parsed), "%v: got %v", c.value, parsed)
		}
	}

	for _, value := range []string{"yesterday", "2010-13-45"} {
		_, err := parseTimestamp(value)
		assert.Error(t, err, "%v", value)
	}

	// non-string values read as absent
	parsed, err := parseTimestamp(42)
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestCoercions(t *testing.T) {
	for _, c := range []struct {
		value    interface{}
		expected int64
		ok       bool
	}{
		{json.Number("2048"), 2048, true},
		{json.Number("2048.0"), 2048, true},
		{int64(7), 7, true},
		{7, 7, true},
		{float64(7), 7, true},
		{"7", 0, false},
		{nil, 0, false},
	} {
		n, ok := asInt64(c.value)
		assert.Equal(t, c.ok, ok, "%v", c.value)
		if c.ok {
			assert.Equal(t, c.expected, n, "%v", c.value)
		}
	}

	assert.True(t, asBool(true))
	assert.False(t, asBool(false))
	assert.True(t, asBool("True"))
	assert.True(t, asBool("true"))
	assert.True(t, asBool("1"))
	assert.False(t, asBool("no"))
	assert.False(t, asBool(nil))
}

func TestEncodeEligibleProperties(t *testing.T) {
	props := map[string]interface{}{
		"mappings":             []interface{}{map[string]interface{}{"virtual": "aaa", "device": "bbb"}},
		"block_device_mapping": []interface{}{map[string]interface{}{"virtual_device": "fake", "device_name": "/dev/fake"}},
		"kernel_id":            "aki-1",
		"min_count":            "2",
	}
	encoded, err := encodeEligibleProperties(props)
	require.NoError(t, err)
	assert.Equal(t, `[{"device":"bbb","virtual":"aaa"}]`, encoded["mappings"])
	assert.Equal(t, `[{"device_name":"/dev/fake","virtual_device":"fake"}]`, encoded["block_device_mapping"])
	assert.Equal(t, "aki-1", encoded["kernel_id"])
	assert.Equal(t, "2", encoded["min_count"])
	// input untouched
	assert.IsType(t, []interface{}{}, props["mappings"])
}

func TestDecodeEligibleProperties(t *testing.T) {
	props := map[string]interface{}{
		"mappings":  `[{"virtual": "aaa", "device": "bbb"}]`,
		"kernel_id": "aki-1",
	}
	err := decodeEligibleProperties(props)
	require.NoError(t, err)
	mappings, ok := props["mappings"].([]interface{})
	require.True(t, ok)
	require.Len(t, mappings, 1)
	entry, ok := mappings[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "aaa", entry["virtual"])
	assert.Equal(t, "aki-1", props["kernel_id"])

	broken := map[string]interface{}{"mappings": "not json"}
	err = decodeEligibleProperties(broken)
	assert.ErrorContains(t, err, `decoding image property "mappings"`)
}

func TestPrepareOutbound(t *testing.T) {
	meta := &types.ImageMetadata{
		ID:              "789",
		Name:            "snap-1",
		Status:          types.ImageStatusActive,
		IsPublic:        true,
		DiskFormat:      "qcow2",
		ContainerFormat: "bare",
		Owner:           "project1",
		Checksum:        "9d3d051a03f3f0257ce7d430087a9f6f",
		Size:            2048,
		MinRAM:          256,
		MinDisk:         1,
		Location:        "file:///var/lib/images/789",
		CreatedAt:       timePtr(time.Now()),
		Properties:      map[string]interface{}{"kernel_id": "aki-1"},
	}
	fields, err := prepareOutbound(meta)
	require.NoError(t, err)
	assert.Equal(t, "789", fields["id"])
	assert.Equal(t, "snap-1", fields["name"])
	assert.Equal(t, true, fields["is_public"])
	assert.Equal(t, int64(256), fields["min_ram"])
	assert.Equal(t, int64(1), fields["min_disk"])
	assert.Equal(t, int64(2048), fields["size"])
	assert.Equal(t, "file:///var/lib/images/789", fields["location"])
	assert.Equal(t, map[string]interface{}{"kernel_id": "aki-1"}, fields["properties"])
	// provider-managed attributes are never sent
	assert.NotContains(t, fields, "status")
	assert.NotContains(t, fields, "created_at")
	assert.NotContains(t, fields, "deleted")
}

func TestPrepareOutboundEmpty(t *testing.T) {
	fields, err := prepareOutbound(&types.ImageMetadata{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"properties": map[string]interface{}{},
		"is_public":  false,
		"min_ram":    int64(0),
		"min_disk":   int64(0),
	}, fields)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
