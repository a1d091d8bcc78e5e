// Package esgf searches the ESGF federation for CMIP6 files and retrieves
// them into the local archive.
package esgf

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/INLOpen/cmip6kit/cmip6"
)

// DefaultSearchNode is queried when no node is configured.
const DefaultSearchNode = "esgf-node.llnl.gov"

// searchLimit is the page size requested from the index. A dataset never
// has more files than this.
const searchLimit = 10000

// File is one replica of a file as catalogued by the search index.
type File struct {
	Filename string
	// MasterID identifies the file across replicas.
	MasterID string
	// Dataset is the identity of the dataset holding the file, version
	// included.
	Dataset      cmip6.DatasetID
	DataNode     string
	Size         int64
	Checksum     string
	ChecksumType string
	// URLs are the HTTPServer download links of this replica.
	URLs []string
}

// ClientOptions configures a Client.
type ClientOptions struct {
	SearchNode string
	// BaseURL overrides https://<SearchNode>, mainly for tests.
	BaseURL     string
	HTTPClient  *http.Client
	IgnoreHosts []string
	Logger      *slog.Logger
}

// Client queries an ESGF search node.
type Client struct {
	base   string
	http   *http.Client
	ignore []string
	logger *slog.Logger
}

// NewClient returns a Client.
func NewClient(opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	base := opts.BaseURL
	if base == "" {
		node := opts.SearchNode
		if node == "" {
			node = DefaultSearchNode
		}
		base = "https://" + node
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   opts.HTTPClient,
		ignore: opts.IgnoreHosts,
		logger: opts.Logger.With("component", "ESGFClient"),
	}
}

// SearchDataset returns every replica of every file of the dataset. Files of
// other versions of the dataset are dropped.
func (c *Client) SearchDataset(ctx context.Context, id cmip6.DatasetID) ([]File, error) {
	q := url.Values{}
	q.Set("project", "CMIP6")
	q.Set("activity_id", id.Activity)
	q.Set("institution_id", id.Institution)
	q.Set("source_id", id.Source)
	q.Set("experiment_id", id.Experiment)
	q.Set("variant_label", id.Variant)
	q.Set("table_id", id.Table)
	q.Set("variable_id", id.Variable)
	q.Set("grid_label", id.Grid)
	q.Set("replica", "true")
	files, err := c.search(ctx, q)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(files, func(f File) bool { return f.Dataset.Version != id.Version }), nil
}

// SearchMasterID returns the replicas of one file.
func (c *Client) SearchMasterID(ctx context.Context, masterID string) ([]File, error) {
	q := url.Values{}
	q.Set("master_id", masterID)
	return c.search(ctx, q)
}

func (c *Client) search(ctx context.Context, q url.Values) ([]File, error) {
	q.Set("type", "File")
	q.Set("distrib", "true")
	q.Set("limit", strconv.Itoa(searchLimit))
	endpoint := c.base + "/esg-search/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: endpoint, Code: resp.StatusCode}
	}

	var doc solrResponse
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	c.logger.Debug("Search complete", "query", q.Encode(), "found", doc.Result.NumFound)

	files := make([]File, 0, len(doc.Result.Docs))
	for _, d := range doc.Result.Docs {
		f, err := d.file()
		if err != nil {
			c.logger.Warn("Skipping unparseable search result", "error", err)
			continue
		}
		f.URLs = c.keepURLs(d.arr("url"))
		if len(f.URLs) == 0 {
			c.logger.Debug("Replica has no usable HTTPServer link", "master_id", f.MasterID, "data_node", f.DataNode)
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

// keepURLs reduces "<url>|<mime>|<service>" entries to the HTTPServer links
// on hosts that are not ignored.
func (c *Client) keepURLs(entries []string) []string {
	var out []string
	for _, e := range entries {
		parts := strings.Split(e, "|")
		if len(parts) < 3 || strings.TrimSpace(parts[2]) != "HTTPServer" {
			continue
		}
		link := strings.TrimSpace(parts[0])
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		if slices.Contains(c.ignore, u.Hostname()) {
			c.logger.Warn("Ignoring host", "host", u.Hostname())
			continue
		}
		out = append(out, link)
	}
	return out
}

// The search node answers in Solr's XML response format.
type solrResponse struct {
	Result struct {
		NumFound int       `xml:"numFound,attr"`
		Docs     []solrDoc `xml:"doc"`
	} `xml:"result"`
}

type solrField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type solrArr struct {
	Name   string   `xml:"name,attr"`
	Values []string `xml:"str"`
}

type solrDoc struct {
	Strs  []solrField `xml:"str"`
	Longs []solrField `xml:"long"`
	Arrs  []solrArr   `xml:"arr"`
}

func (d solrDoc) str(name string) string {
	for _, f := range d.Strs {
		if f.Name == name {
			return strings.TrimSpace(f.Value)
		}
	}
	if v := d.arr(name); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func (d solrDoc) arr(name string) []string {
	for _, a := range d.Arrs {
		if a.Name == name {
			return a.Values
		}
	}
	return nil
}

func (d solrDoc) file() (File, error) {
	f := File{
		Filename:     d.str("title"),
		MasterID:     d.str("master_id"),
		DataNode:     d.str("data_node"),
		Checksum:     d.str("checksum"),
		ChecksumType: d.str("checksum_type"),
	}
	if f.Filename == "" || f.MasterID == "" {
		return File{}, fmt.Errorf("search result without title or master_id")
	}
	datasetID := d.str("dataset_id")
	if datasetID == "" {
		datasetID = f.MasterID
	}
	ds, _, err := cmip6.ParseMasterID(datasetID)
	if err != nil {
		return File{}, err
	}
	f.Dataset = ds
	for _, l := range d.Longs {
		if l.Name == "size" {
			f.Size, _ = strconv.ParseInt(strings.TrimSpace(l.Value), 10, 64)
		}
	}
	return f, nil
}
