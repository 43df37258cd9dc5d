package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/imageservice/glance"
	"github.com/imageservice/glance/types"
	"github.com/imageservice/glance/version"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	apiServers []string
	apiVersion int
	debug      bool
}

// serviceOptions builds the service configuration from the config file, with
// command line flags taking precedence.
func (g *globalOptions) serviceOptions() (*glance.Options, error) {
	opts := &glance.Options{}
	if g.configPath != "" {
		loaded, err := glance.LoadOptions(g.configPath)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}
	if len(g.apiServers) > 0 {
		opts.APIServers = g.apiServers
	}
	if g.apiVersion != 0 {
		opts.APIVersion = g.apiVersion
	}
	if g.debug {
		opts.Debug = true
	}
	return opts, nil
}

// imageOutput is the output format of (glancectl show) and (glancectl list),
// primarily so that we can format it with a simple json.MarshalIndent.
type imageOutput struct {
	ID              string
	Name            string `json:",omitempty"`
	Status          string
	Visibility      string
	DiskFormat      string `json:",omitempty"`
	ContainerFormat string `json:",omitempty"`
	Size            int64
	Checksum        string `json:",omitempty"`
	MinRAM          int
	MinDisk         int
	Owner           string                 `json:",omitempty"`
	CreatedAt       *time.Time             `json:",omitempty"`
	UpdatedAt       *time.Time             `json:",omitempty"`
	Locations       []types.ImageLocation  `json:",omitempty"`
	Properties      map[string]interface{} `json:",omitempty"`
}

func outputFor(meta *types.ImageMetadata) imageOutput {
	visibility := types.ImageVisibilityPrivate
	if meta.IsPublic {
		visibility = types.ImageVisibilityPublic
	}
	return imageOutput{
		ID:              meta.ID,
		Name:            meta.Name,
		Status:          string(meta.Status),
		Visibility:      string(visibility),
		DiskFormat:      meta.DiskFormat,
		ContainerFormat: meta.ContainerFormat,
		Size:            meta.Size,
		Checksum:        meta.Checksum,
		MinRAM:          meta.MinRAM,
		MinDisk:         meta.MinDisk,
		Owner:           meta.Owner,
		CreatedAt:       meta.CreatedAt,
		UpdatedAt:       meta.UpdatedAt,
		Locations:       meta.Locations,
		Properties:      meta.Properties,
	}
}

func printJSON(w io.Writer, data interface{}) error {
	out, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// keyValuePairs turns repeated key=value flags into a map.
func keyValuePairs(pairs []string) (map[string]string, error) {
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		m[key] = value
	}
	return m, nil
}

func newListCommand(global *globalOptions) *cobra.Command {
	var (
		filters []string
		marker  string
		limit   int
		sortKey string
		sortDir string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List images visible to the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := global.serviceOptions()
			if err != nil {
				return err
			}
			svc, err := glance.GetDefaultImageService(opts)
			if err != nil {
				return err
			}
			parsed, err := keyValuePairs(filters)
			if err != nil {
				return err
			}
			images, err := svc.Detail(cmd.Context(), nil, glance.ListOpts{
				Filters: parsed,
				Marker:  marker,
				Limit:   limit,
				SortKey: sortKey,
				SortDir: sortDir,
			})
			if err != nil {
				return err
			}
			out := make([]imageOutput, 0, len(images))
			for _, meta := range images {
				out = append(out, outputFor(meta))
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&filters, "filter", nil, "filter images by key=value (repeatable)")
	cmd.Flags().StringVar(&marker, "marker", "", "list images after this image ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "return at most this many images")
	cmd.Flags().StringVar(&sortKey, "sort-key", "", "sort images by this field")
	cmd.Flags().StringVar(&sortDir, "sort-dir", "", "sort direction (asc or desc)")
	return cmd
}

func newShowCommand(global *globalOptions) *cobra.Command {
	var locations bool
	cmd := &cobra.Command{
		Use:   "show IMAGE",
		Short: "Show one image, referenced by ID or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := global.serviceOptions()
			if err != nil {
				return err
			}
			svc, imageID, err := glance.GetRemoteImageService(args[0], opts)
			if err != nil {
				return err
			}
			meta, err := svc.Show(cmd.Context(), nil, imageID, locations, false)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outputFor(meta))
		},
	}
	cmd.Flags().BoolVar(&locations, "locations", false, "include the image's storage locations")
	return cmd
}

func newDownloadCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download IMAGE DESTINATION",
		Short: "Download image data to a file, or to stdout with \"-\"",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := global.serviceOptions()
			if err != nil {
				return err
			}
			svc, imageID, err := glance.GetRemoteImageService(args[0], opts)
			if err != nil {
				return err
			}
			if args[1] == "-" {
				stream, err := svc.Download(cmd.Context(), nil, imageID, nil, "")
				if err != nil {
					return err
				}
				defer stream.Close()
				_, err = io.Copy(cmd.OutOrStdout(), stream)
				return err
			}
			_, err = svc.Download(cmd.Context(), nil, imageID, nil, args[1])
			return err
		},
	}
	return cmd
}

func newCreateCommand(global *globalOptions) *cobra.Command {
	var (
		file            string
		diskFormat      string
		containerFormat string
		location        string
		public          bool
		minRAM          int
		minDisk         int
		properties      []string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a new image, optionally storing data with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := global.serviceOptions()
			if err != nil {
				return err
			}
			svc, err := glance.GetDefaultImageService(opts)
			if err != nil {
				return err
			}
			parsed, err := keyValuePairs(properties)
			if err != nil {
				return err
			}
			meta := &types.ImageMetadata{
				Name:            args[0],
				DiskFormat:      diskFormat,
				ContainerFormat: containerFormat,
				Location:        location,
				IsPublic:        public,
				MinRAM:          minRAM,
				MinDisk:         minDisk,
				Properties:      map[string]interface{}{},
			}
			for key, value := range parsed {
				meta.Properties[key] = value
			}

			var data io.Reader
			switch file {
			case "":
			case "-":
				data = cmd.InOrStdin()
			default:
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}
				meta.Size = info.Size()
				data = f
			}

			created, err := svc.Create(cmd.Context(), nil, meta, data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outputFor(created))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "image data to upload (\"-\" reads stdin)")
	cmd.Flags().StringVar(&diskFormat, "disk-format", "", "disk format of the image data")
	cmd.Flags().StringVar(&containerFormat, "container-format", "", "container format of the image data")
	cmd.Flags().StringVar(&location, "location", "", "register this storage location instead of uploading data")
	cmd.Flags().BoolVar(&public, "public", false, "make the image visible to all users")
	cmd.Flags().IntVar(&minRAM, "min-ram", 0, "minimum RAM to run the image, in MB")
	cmd.Flags().IntVar(&minDisk, "min-disk", 0, "minimum disk to run the image, in GB")
	cmd.Flags().StringSliceVar(&properties, "property", nil, "free-form image property as key=value (repeatable)")
	return cmd
}

func newDeleteCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete IMAGE",
		Short: "Delete an image, referenced by ID or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := global.serviceOptions()
			if err != nil {
				return err
			}
			svc, imageID, err := glance.GetRemoteImageService(args[0], opts)
			if err != nil {
				return err
			}
			return svc.Delete(cmd.Context(), nil, imageID)
		},
	}
}

// newRootCommand builds the command tree with a fresh flag state, so tests
// can run it repeatedly.
func newRootCommand() *cobra.Command {
	global := &globalOptions{}
	cmd := &cobra.Command{
		Use:     "glancectl",
		Short:   "Interact with an OpenStack image service",
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if global.debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().StringVar(&global.configPath, "config", "", "path to the image service configuration file")
	cmd.PersistentFlags().StringSliceVar(&global.apiServers, "api-server", nil, "image API endpoint (repeatable, overrides the config file)")
	cmd.PersistentFlags().IntVar(&global.apiVersion, "api-version", 0, "image API version (1 or 2)")
	cmd.PersistentFlags().BoolVar(&global.debug, "debug", false, "enable debug output")
	cmd.AddCommand(
		newListCommand(global),
		newShowCommand(global),
		newDownloadCommand(global),
		newCreateCommand(global),
		newDeleteCommand(global),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
