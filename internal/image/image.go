// Package image manages the local OCI image store: pulling via the
// registry client, extracting layers under images/, and projecting the
// image config the guest needs. It is the "image manager" collaborator
// the init pipeline's rootfs stage consumes.
package image

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/guestsession"
)

// Manager owns the images/ directory.
type Manager struct {
	root string
	mu   sync.Mutex
}

// NewManager creates the image store under root.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, berrors.Wrap(berrors.Storage, "creating image store", err)
	}
	return &Manager{root: root}, nil
}

// Handle describes one locally materialized image.
type Handle struct {
	// Reference is the normalized reference the image was pulled by.
	Reference string
	// Digest is the manifest digest ("sha256:...").
	Digest string
	// LayerDirs are the extracted layer roots in application order
	// (base first), ready to be overlayed in the guest.
	LayerDirs []string
	// Config is the projection the guest's container init needs.
	Config guestsession.ImageConfig
}

const completeMarker = ".complete"

// Pull always resolves ref's manifest from the registry, then fetches
// the layers only when no complete local copy of that digest exists;
// either way it returns the handle. Pulling the same reference twice
// yields the same digest without re-downloading the layers.
func (m *Manager) Pull(ctx context.Context, refStr string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, err := name.ParseReference(refStr)
	if err != nil {
		return nil, berrors.Wrap(berrors.InvalidArgument, "parsing image reference "+refStr, err)
	}

	img, err := remote.Image(ref,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err != nil {
		return nil, berrors.Wrap(berrors.Network, "resolving image "+refStr, err)
	}
	digest, err := img.Digest()
	if err != nil {
		return nil, berrors.Wrap(berrors.Network, "reading image digest", err)
	}

	imageDir := m.imageDir(digest.String())
	if _, err := os.Stat(filepath.Join(imageDir, completeMarker)); err == nil {
		slog.DebugContext(ctx, "Manager.Pull: image complete locally", "ref", refStr, "digest", digest.String())
		return m.loadHandle(ref.Name(), digest.String(), imageDir)
	}

	slog.InfoContext(ctx, "Manager.Pull: fetching image", "ref", refStr, "digest", digest.String())
	if err := m.materialize(ctx, img, imageDir); err != nil {
		// A half-extracted image must not be mistaken for complete.
		_ = os.RemoveAll(imageDir)
		return nil, err
	}
	return m.loadHandle(ref.Name(), digest.String(), imageDir)
}

func (m *Manager) imageDir(digest string) string {
	return filepath.Join(m.root, strings.ReplaceAll(digest, ":", "-"))
}

func (m *Manager) materialize(ctx context.Context, img v1.Image, imageDir string) error {
	layers, err := img.Layers()
	if err != nil {
		return berrors.Wrap(berrors.Network, "listing image layers", err)
	}
	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			return berrors.Wrap(berrors.Network, "pull cancelled", err)
		}
		layerDir := filepath.Join(imageDir, "layers", layerDirName(i))
		if err := os.MkdirAll(layerDir, 0o755); err != nil {
			return berrors.Wrap(berrors.Storage, "creating layer dir", err)
		}
		rc, err := layer.Uncompressed()
		if err != nil {
			return berrors.Wrap(berrors.Network, "opening layer", err)
		}
		err = extractTar(rc, layerDir)
		rc.Close()
		if err != nil {
			return err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return berrors.Wrap(berrors.Network, "reading image config", err)
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return berrors.Wrap(berrors.Internal, "marshaling image config", err)
	}
	if err := os.WriteFile(filepath.Join(imageDir, "config.json"), cfgJSON, 0o644); err != nil {
		return berrors.Wrap(berrors.Storage, "writing image config", err)
	}
	if err := os.WriteFile(filepath.Join(imageDir, completeMarker), nil, 0o644); err != nil {
		return berrors.Wrap(berrors.Storage, "writing completion marker", err)
	}
	return nil
}

// layerDirName is zero-padded so lexical order is application order.
func layerDirName(i int) string {
	return fmt.Sprintf("layer-%03d", i)
}

func (m *Manager) loadHandle(reference, digest, imageDir string) (*Handle, error) {
	cfgJSON, err := os.ReadFile(filepath.Join(imageDir, "config.json"))
	if err != nil {
		return nil, berrors.Wrap(berrors.Storage, "reading cached image config", err)
	}
	var cfg v1.ConfigFile
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return nil, berrors.Wrap(berrors.Internal, "unmarshaling cached image config", err)
	}

	layersRoot := filepath.Join(imageDir, "layers")
	entries, err := os.ReadDir(layersRoot)
	if err != nil {
		return nil, berrors.Wrap(berrors.Storage, "listing cached layers", err)
	}
	var layerDirs []string
	for _, e := range entries {
		if e.IsDir() {
			layerDirs = append(layerDirs, filepath.Join(layersRoot, e.Name()))
		}
	}
	sort.Strings(layerDirs)

	return &Handle{
		Reference: reference,
		Digest:    digest,
		LayerDirs: layerDirs,
		Config:    projectConfig(cfg),
	}, nil
}

// projectConfig reduces the OCI config to what the guest needs.
func projectConfig(cfg v1.ConfigFile) guestsession.ImageConfig {
	out := guestsession.ImageConfig{
		Env:        cfg.Config.Env,
		Entrypoint: cfg.Config.Entrypoint,
		Cmd:        cfg.Config.Cmd,
		WorkingDir: cfg.Config.WorkingDir,
	}
	for portProto := range cfg.Config.ExposedPorts {
		if port, ok := parseExposedPort(portProto); ok {
			out.ExposedPorts = append(out.ExposedPorts, port)
		}
	}
	sort.Slice(out.ExposedPorts, func(i, j int) bool { return out.ExposedPorts[i] < out.ExposedPorts[j] })
	return out
}

// parseExposedPort handles the "8080/tcp" form; udp entries are skipped
// since the port mapper only forwards tcp.
func parseExposedPort(s string) (uint16, bool) {
	portStr, proto, found := strings.Cut(s, "/")
	if found && proto != "tcp" {
		return 0, false
	}
	var port uint32
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return 0, false
		}
		port = port*10 + uint32(r-'0')
		if port > 65535 {
			return 0, false
		}
	}
	if port == 0 {
		return 0, false
	}
	return uint16(port), true
}

// extractTar unpacks a layer tarball under dir, refusing entries that
// escape it.
func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return berrors.Wrap(berrors.Storage, "reading layer tar", err)
		}
		target := filepath.Join(dir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
			return berrors.Newf(berrors.Storage, "layer entry %q escapes extraction dir", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)&0o777|0o700); err != nil {
				return berrors.Wrap(berrors.Storage, "creating layer dir entry", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return berrors.Wrap(berrors.Storage, "creating parent dir", err)
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return berrors.Wrap(berrors.Storage, "creating layer file", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return berrors.Wrap(berrors.Storage, "extracting layer file", err)
			}
			if err := f.Close(); err != nil {
				return berrors.Wrap(berrors.Storage, "closing layer file", err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return berrors.Wrap(berrors.Storage, "creating layer symlink", err)
			}
		case tar.TypeLink:
			linkSrc := filepath.Join(dir, filepath.Clean(hdr.Linkname))
			_ = os.Remove(target)
			if err := os.Link(linkSrc, target); err != nil {
				return berrors.Wrap(berrors.Storage, "creating layer hardlink", err)
			}
		default:
			// Devices, fifos etc. are skipped; the guest recreates
			// what it needs.
		}
	}
}

// LayerCount reports how many layers a pulled handle carries; the CLI
// prints it after a non-quiet pull.
func (h *Handle) LayerCount() int { return len(h.LayerDirs) }
