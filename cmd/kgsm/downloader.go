package main

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/TheKrystalShip/kgsm"
)

// nativeDownloader is the Steam-CLI-backed artifact fetch spec.md §1
// declares an external collaborator; no such CLI is available to this
// module, so it always fails, mirroring update.go's nativeVersionProbe
// stand-in.
type nativeDownloader struct{}

func (nativeDownloader) Download(ctx context.Context, inst *kgsm.Instance, destDir string) error {
	return kgsm.WrapErr(kgsm.ErrMissingDependency, fmt.Sprintf("no downloader configured for native instance %q", inst.Name), "wire an external Steam-CLI downloader", nil)
}

// containerDownloader materialises a container-runtime blueprint's
// artifacts by pulling imageRef and flattening its layers into destDir, via
// go-containerregistry's remote.Image + mutate.Extract — the same
// dependency update.go's containerVersionProbe already uses for digest
// resolution, here exercised for the actual fetch the probe only reads the
// metadata of.
type containerDownloader struct {
	imageRef string
}

func newContainerDownloader(imageRef string) *containerDownloader {
	return &containerDownloader{imageRef: imageRef}
}

func (d *containerDownloader) Download(ctx context.Context, inst *kgsm.Instance, destDir string) error {
	ref, err := name.ParseReference(d.imageRef)
	if err != nil {
		return kgsm.WrapErr(kgsm.ErrInvalidArg, fmt.Sprintf("parsing image reference %q", d.imageRef), "", err)
	}
	img, err := remote.Image(ref, remote.WithContext(ctx))
	if err != nil {
		return kgsm.WrapErr(kgsm.ErrFailedSource, fmt.Sprintf("pulling image %q", d.imageRef), "check registry connectivity and credentials", err)
	}

	rc := mutate.Extract(img)
	defer rc.Close()

	if err := extractTar(rc, destDir); err != nil {
		return kgsm.WrapErr(kgsm.ErrFailedSource, fmt.Sprintf("extracting image %q into %s", d.imageRef, destDir), "", err)
	}
	return nil
}

// extractTar writes an uncompressed tar stream's regular files and
// directories into dest, tolerating the usual container-layer oddities
// (symlinks, device nodes) by skipping them rather than failing the whole
// pull.
func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777|0o600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		default:
			continue
		}
	}
}
