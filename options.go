package glance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Filesystem describes one shared filesystem reachable by both this host and
// the image service, used for direct file downloads. ID must match the id the
// service reports in the image's location metadata.
type Filesystem struct {
	ID         string `toml:"id" yaml:"id"`
	Mountpoint string `toml:"mountpoint" yaml:"mountpoint"`
}

// Options configures access to the image service.
type Options struct {
	// APIServers are the image service endpoints. Calls rotate through them
	// in a shuffled round-robin. Entries without a scheme are taken as
	// http:// with a deprecation warning.
	APIServers []string `toml:"api_servers" yaml:"api_servers"`

	// APIVersion selects the image API schema: 1 (legacy) or 2. The zero
	// value means 2.
	APIVersion int `toml:"api_version" yaml:"api_version"`

	// NumRetries is how many times a failed call is retried against the
	// next endpoint. Negative values are treated as 0 with a warning.
	NumRetries int `toml:"num_retries" yaml:"num_retries"`

	// APIInsecure skips TLS certificate verification for https endpoints.
	APIInsecure bool   `toml:"api_insecure" yaml:"api_insecure"`
	CertFile    string `toml:"cert_file" yaml:"cert_file"`
	KeyFile     string `toml:"key_file" yaml:"key_file"`
	CAFile      string `toml:"ca_file" yaml:"ca_file"`

	// AllowedDirectURLSchemes lists URL schemes a download may fetch
	// straight from the image's storage locations, bypassing the API.
	AllowedDirectURLSchemes []string `toml:"allowed_direct_url_schemes" yaml:"allowed_direct_url_schemes"`

	// Filesystems back the file scheme for direct downloads.
	Filesystems []Filesystem `toml:"filesystem" yaml:"filesystems"`

	// VerifySignatures checks downloaded data against the signature
	// recorded in the image properties.
	VerifySignatures bool `toml:"verify_signatures" yaml:"verify_signatures"`

	// SignatureCertsDir holds the PEM certificates named by the
	// img_signature_certificate_uuid image property.
	SignatureCertsDir string `toml:"signature_certs_dir" yaml:"signature_certs_dir"`

	// Debug additionally logs request and response bodies.
	Debug bool `toml:"debug" yaml:"debug"`
}

// tomlOptions is the data type used to unmarshal the toml config.
type tomlOptions struct {
	Glance Options `toml:"glance"`
}

// backwards compatibility for the YAML config layout.
type yamlOptions struct {
	Glance Options `yaml:"glance"`
}

// Reads the config file from the filesystem. Returns a byte array.
func readOptionsFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Used in unittests to parse custom configs without touching the filesystem.
var readConf = readOptionsFile

// LoadOptions reads and unmarshals the configuration file at path. Files
// named *.yaml or *.yml use the legacy YAML layout, everything else TOML.
func LoadOptions(path string) (*Options, error) {
	configBytes, err := readConf(path)
	if err != nil {
		return nil, err
	}

	var opts *Options
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		config := yamlOptions{}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return nil, err
		}
		opts = &config.Glance
	default:
		config := tomlOptions{}
		if err := toml.Unmarshal(configBytes, &config); err != nil {
			return nil, err
		}
		opts = &config.Glance
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// validate fills in defaults and rejects unusable combinations. An empty
// APIServers list is accepted here; it only becomes an error when a client
// is actually built from these options.
func (o *Options) validate() error {
	if o.APIVersion == 0 {
		o.APIVersion = 2
	}
	if o.APIVersion != 1 && o.APIVersion != 2 {
		return fmt.Errorf("unsupported image API version %d", o.APIVersion)
	}
	for _, fs := range o.Filesystems {
		if fs.ID == "" || fs.Mountpoint == "" {
			return fmt.Errorf("filesystem entries need both an id and a mountpoint")
		}
	}
	return nil
}
