// Package fetcher loads the raw rule catalog from a directory or over HTTP
// and reads the blood service notice feed.
package fetcher

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"donor_check/internal/model"
)

// maxFileSize caps a single catalog file.
const maxFileSize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FileName returns the catalog file name of a partition.
func FileName(p model.Partition) string {
	return string(p) + ".json"
}

// Fetcher downloads catalog files from a base URL.
type Fetcher struct {
	client  HTTPClient
	baseURL string
	timeout time.Duration
}

// New creates a Fetcher that reads {baseURL}/{partition}.json.
func New(client HTTPClient, baseURL string) *Fetcher {
	return &Fetcher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 30 * time.Second,
	}
}

// Source describes where the fetcher reads from.
func (f *Fetcher) Source() string {
	return f.baseURL
}

// Load downloads every partition. Any failure fails the whole load.
func (f *Fetcher) Load(ctx context.Context) (model.RawCatalog, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var raw model.RawCatalog
	for _, p := range model.Partitions {
		recs, err := f.fetchFile(ctx, f.baseURL+"/"+FileName(p))
		if err != nil {
			return model.RawCatalog{}, fmt.Errorf("fetch %s: %w", p, err)
		}
		raw.SetRecords(p, recs)
	}
	return raw, nil
}

func (f *Fetcher) fetchFile(ctx context.Context, url string) ([]model.RawRuleRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "DonorCheckBot/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return Decode(resp.Body)
}

// Dir reads catalog files from a file system.
type Dir struct {
	fsys fs.FS
	name string
}

// NewDir creates a directory loader. name is only used to describe the source.
func NewDir(fsys fs.FS, name string) *Dir {
	return &Dir{fsys: fsys, name: name}
}

// Source describes where the loader reads from.
func (d *Dir) Source() string {
	return d.name
}

// Load reads every partition file. A missing file is an empty partition;
// a file that fails to decode fails the whole load.
func (d *Dir) Load(_ context.Context) (model.RawCatalog, error) {
	var raw model.RawCatalog
	for _, p := range model.Partitions {
		file, err := d.fsys.Open(FileName(p))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return model.RawCatalog{}, fmt.Errorf("open %s: %w", FileName(p), err)
		}
		recs, err := Decode(file)
		_ = file.Close()
		if err != nil {
			return model.RawCatalog{}, fmt.Errorf("read %s: %w", FileName(p), err)
		}
		raw.SetRecords(p, recs)
	}
	return raw, nil
}

const schemaURL = "https://donor-check.schemas.local/catalog.schema.json"

//go:embed catalog.schema.json
var catalogSchemaJSON string

var catalogSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(catalogSchemaJSON)); err != nil {
		panic(fmt.Sprintf("load catalog schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// Decode parses one catalog file: a JSON array of records. The file is
// checked against the catalog schema first so that type errors name the
// offending record.
func Decode(r io.Reader) ([]model.RawRuleRecord, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := catalogSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	var recs []model.RawRuleRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return recs, nil
}
