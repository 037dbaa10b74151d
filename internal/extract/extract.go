// Package extract acquires the dataset into the work directory and returns
// the local CSV path. Sources are a local file, a plain HTTP(S) URL, a Kaggle
// dataset or an S3 object; zip archives are unpacked in place. Every failure
// is reported as a *datasource.AcquisitionError, which is retryable.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"elt/internal/config"
	"elt/internal/datasource"
	"elt/internal/datasource/file"
	"elt/internal/datasource/httpds"
	"elt/internal/datasource/s3src"
)

// ErrCSVNotFound is wrapped when acquisition finished but no CSV is present.
var ErrCSVNotFound = errors.New("CSV not found after download/unzip")

// DefaultKaggleBaseURL is the root of the Kaggle public API.
const DefaultKaggleBaseURL = "https://www.kaggle.com/api/v1"

var zipMagic = []byte("PK\x03\x04")

// Artifact is the acquired dataset.
type Artifact struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint"` // xxh3-128, hex
}

// Extractor acquires one pipeline's source.
type Extractor struct {
	Pipeline config.Pipeline

	// S3 overrides the client built from the default AWS chain.
	S3 s3src.GetObjectAPI

	// Getenv and HomeDir locate kaggle.json; they default to os.Getenv and
	// os.UserHomeDir.
	Getenv  func(string) string
	HomeDir func() (string, error)
}

// Acquire fetches the source into WorkDir, unpacks archives, makes sure the
// expected file name exists, logs a preview and fingerprints the result.
// Calling it again re-acquires from scratch.
func (e *Extractor) Acquire(ctx context.Context) (Artifact, error) {
	p := e.Pipeline
	kind := p.Source.Kind
	if err := os.MkdirAll(p.WorkDir, 0o755); err != nil {
		return Artifact{}, datasource.Acquisition(kind, fmt.Errorf("create work dir: %w", err))
	}
	log.Printf("extract: source=%s work_dir=%s", kind, p.WorkDir)

	var (
		fetched string
		err     error
	)
	switch kind {
	case "file":
		fetched, err = e.fetchFile(ctx)
	case "http":
		fetched, err = e.fetchHTTP(ctx)
	case "kaggle":
		fetched, err = e.fetchKaggle(ctx)
	case "s3":
		fetched, err = e.fetchS3(ctx)
	default:
		err = fmt.Errorf("unsupported source.kind=%s", kind)
	}
	if err != nil {
		return Artifact{}, datasource.Acquisition(kind, err)
	}

	fresh, err := unpackIfZip(fetched, p.WorkDir)
	if err != nil {
		return Artifact{}, datasource.Acquisition(kind, err)
	}
	target, err := locateCSV(p.WorkDir, p.Source.Filename, fresh)
	if err != nil {
		return Artifact{}, datasource.Acquisition(kind, err)
	}

	preview(target, p.Runtime.PreviewRows)

	art, err := fingerprint(target)
	if err != nil {
		return Artifact{}, datasource.Acquisition(kind, err)
	}
	log.Printf("extract: path=%s size=%d fingerprint=%s", art.Path, art.Size, art.Fingerprint)
	return art, nil
}

func (e *Extractor) httpClient(user, pass string, insecure bool) *httpds.Client {
	return httpds.NewClient(httpds.Config{
		MaxRetries:         e.Pipeline.Runtime.HTTPRetries,
		InsecureSkipVerify: insecure,
		Username:           user,
		Password:           pass,
	})
}

// fetchFile copies the configured file into the work directory unless it
// already lives there.
func (e *Extractor) fetchFile(ctx context.Context) (string, error) {
	src := e.Pipeline.Source.File.Path
	dst := filepath.Join(e.Pipeline.WorkDir, filepath.Base(src))
	if same, err := samePath(src, dst); err != nil || same {
		if err != nil {
			return "", err
		}
		return dst, nil
	}
	return copyTo(ctx, file.NewLocal(src), dst)
}

func (e *Extractor) fetchHTTP(ctx context.Context) (string, error) {
	h := e.Pipeline.Source.HTTP
	name, err := nameFromURL(h.URL)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(e.Pipeline.WorkDir, name)
	if _, err := e.httpClient("", "", h.InsecureSkipVerify).Download(ctx, h.URL, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (e *Extractor) fetchKaggle(ctx context.Context) (string, error) {
	k := e.Pipeline.Source.Kaggle
	user, key, err := e.kaggleCredentials()
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(k.BaseURL, "/")
	if base == "" {
		base = DefaultKaggleBaseURL
	}
	u := base + "/datasets/download/" + k.Dataset
	dst := filepath.Join(e.Pipeline.WorkDir, path.Base(k.Dataset)+".zip")
	log.Printf("extract: kaggle dataset=%s", k.Dataset)
	if _, err := e.httpClient(user, key, false).Download(ctx, u, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (e *Extractor) fetchS3(ctx context.Context) (string, error) {
	c := e.Pipeline.Source.S3
	var (
		src *s3src.Source
		err error
	)
	if e.S3 != nil {
		src = s3src.NewWithClient(e.S3, c.Bucket, c.Key)
	} else {
		src, err = s3src.New(ctx, s3src.Config{
			Bucket:    c.Bucket,
			Key:       c.Key,
			Region:    c.Region,
			Endpoint:  c.Endpoint,
			PathStyle: c.PathStyle,
		})
		if err != nil {
			return "", err
		}
	}
	return copyTo(ctx, src, filepath.Join(e.Pipeline.WorkDir, path.Base(c.Key)))
}

// copyTo streams src into dst through a temporary file in dst's directory.
func copyTo(ctx context.Context, src datasource.Source, dst string) (string, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".extract-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

func samePath(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}

func nameFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return name, nil
}

// unpackIfZip extracts a zip archive into dir and removes it, returning the
// CSV files it contained. Entries are flattened to their base names, which
// also keeps them inside dir. Anything that is not a zip is returned as is.
func unpackIfZip(archive, dir string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	head := make([]byte, len(zipMagic))
	n, _ := io.ReadFull(f, head)
	f.Close()
	if n < len(zipMagic) || !bytes.Equal(head, zipMagic) {
		return []string{archive}, nil
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archive, err)
	}
	csvs, err := unzipAll(&zr.Reader, dir)
	zr.Close()
	if err != nil {
		return nil, err
	}
	log.Printf("extract: unzipped %s entries=%d csv=%d", filepath.Base(archive), len(zr.File), len(csvs))
	return csvs, os.Remove(archive)
}

func unzipAll(zr *zip.Reader, dir string) ([]string, error) {
	var csvs []string
	for _, zf := range zr.File {
		name := filepath.Base(zf.Name)
		if zf.FileInfo().IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(zf.Name, "__MACOSX") {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := unzipFile(zf, dst); err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Ext(name), ".csv") {
			csvs = append(csvs, dst)
		}
	}
	return csvs, nil
}

func unzipFile(zf *zip.File, dst string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("unzip %s: %w", zf.Name, err)
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("unzip %s: %w", zf.Name, err)
	}
	return out.Close()
}

// locateCSV returns dir/want. A freshly acquired file takes that name,
// replacing any earlier copy; otherwise an existing dir/want is used, and
// failing that the first *.csv in dir (by name) is renamed into place.
func locateCSV(dir, want string, fresh []string) (string, error) {
	target := filepath.Join(dir, want)
	sort.Strings(fresh)
	for _, f := range fresh {
		if f == target {
			return target, nil
		}
	}
	if len(fresh) > 0 {
		return target, renameInto(fresh[0], target)
	}

	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	found, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return "", err
	}
	sort.Strings(found)
	if len(found) == 0 {
		return "", ErrCSVNotFound
	}
	return target, renameInto(found[0], target)
}

func renameInto(src, target string) error {
	log.Printf("extract: renaming %s -> %s", filepath.Base(src), filepath.Base(target))
	return os.Rename(src, target)
}

// preview logs the header and the first n data rows. It never fails the
// stage; reading problems surface in load.
func preview(p string, n int) {
	if n <= 0 {
		return
	}
	f, err := os.Open(p)
	if err != nil {
		log.Printf("extract: preview: %v", err)
		return
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	for i := 0; i <= n; i++ {
		rec, err := r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("extract: preview: %v", err)
			}
			return
		}
		log.Printf("extract: preview row=%d %s", i, strings.Join(rec, " | "))
	}
}

func fingerprint(p string) (Artifact, error) {
	f, err := os.Open(p)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()

	h := xxh3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Artifact{}, fmt.Errorf("fingerprint %s: %w", p, err)
	}
	sum := h.Sum128().Bytes()
	return Artifact{Path: p, Size: n, Fingerprint: hex.EncodeToString(sum[:])}, nil
}
