package transfer

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imageservice/glance/types"
)

// Mount is a locally reachable copy of a filesystem store the image
// service writes to. ID must match the id the service publishes in its
// location metadata; Mountpoint is where that store is mounted here.
type Mount struct {
	ID         string
	Mountpoint string
}

// FilesystemHandler copies image data from file locations whose backing
// store is also mounted locally.
type FilesystemHandler struct {
	mounts map[string]string
}

// NewFilesystemHandler returns a handler for the given local mounts.
func NewFilesystemHandler(mounts []Mount) *FilesystemHandler {
	m := make(map[string]string, len(mounts))
	for _, mount := range mounts {
		m[mount.ID] = mount.Mountpoint
	}
	return &FilesystemHandler{mounts: m}
}

// Schemes implements Handler.
func (h *FilesystemHandler) Schemes() []string {
	return []string{"file"}
}

// Download resolves the location against the matching local mount and
// copies the image file to dstPath. The location metadata names the store
// (id) and where the service has it mounted (mountpoint); the local path
// is the service path rebased onto the local mountpoint.
func (h *FilesystemHandler) Download(ctx context.Context, location types.ImageLocation, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, _ := location.Metadata["id"].(string)
	remoteMount, _ := location.Metadata["mountpoint"].(string)
	if id == "" || remoteMount == "" {
		return errors.New("file location carries no filesystem store metadata")
	}
	localMount, ok := h.mounts[id]
	if !ok {
		return errors.Errorf("no local mount configured for filesystem store %q", id)
	}

	u, err := url.Parse(location.URL)
	if err != nil {
		return errors.Wrapf(err, "parsing image location %q", location.URL)
	}
	if !strings.HasPrefix(u.Path, remoteMount) {
		return errors.Errorf("image path %q is outside the %q store mountpoint %q", u.Path, id, remoteMount)
	}
	srcPath := filepath.Join(localMount, strings.TrimPrefix(u.Path, remoteMount))

	logrus.Debugf("Copying image from %s to %s", srcPath, dstPath)
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "opening image file")
	}
	defer src.Close()
	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrap(err, "creating destination file")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrap(err, "copying image file")
	}
	if err := dst.Close(); err != nil {
		return errors.Wrap(err, "closing destination file")
	}
	return nil
}
