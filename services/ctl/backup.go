package ctl

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	gos3 "rangerd/pkg/s3"
	"rangerd/services/api"
)

const (
	manifestFileName = "manifest.yaml"
	tableDirPrefix   = "tables/"

	tableSubnets   = "subnets"
	tableRanges    = "dynamic_ranges"
	tableStaticIPs = "static_ips"
)

// subnetRow is the bundle form of a subnet.
type subnetRow struct {
	ID         string   `yaml:"id"`
	Network    string   `yaml:"network"`
	PrefixLen  int      `yaml:"prefix_len"`
	Gateway    string   `yaml:"gateway"`
	DNSServers []string `yaml:"dns_servers,omitempty"`
	DomainName string   `yaml:"domain_name,omitempty"`
	Enabled    bool     `yaml:"enabled"`
}

// rangeRow is the bundle form of a dynamic range.
type rangeRow struct {
	ID           string `yaml:"id"`
	SubnetID     string `yaml:"subnet_id"`
	StartAddress string `yaml:"start_address"`
	EndAddress   string `yaml:"end_address"`
	Enabled      bool   `yaml:"enabled"`
}

// staticRow is the bundle form of a static assignment.
type staticRow struct {
	ID       string `yaml:"id"`
	SubnetID string `yaml:"subnet_id"`
	MAC      string `yaml:"mac"`
	Address  string `yaml:"address"`
	Hostname string `yaml:"hostname,omitempty"`
	Enabled  bool   `yaml:"enabled"`
}

type tableDoc struct {
	name string
	rows int
	data []byte
}

func (d tableDoc) file() string {
	return tableDirPrefix + d.name + ".yaml"
}

// ExportConfig drives Export.
type ExportConfig struct {
	Client *Client
	// Output is the destination bundle path (tar.zst).
	Output string
	Signer *Signer
	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time
	// Stdout receives progress output. Defaults to os.Stdout.
	Stdout io.Writer
}

func (c *ExportConfig) normalize() error {
	if c.Client == nil {
		return errors.New("client is required")
	}
	if strings.TrimSpace(c.Output) == "" {
		return errors.New("output path is required")
	}
	if c.Signer == nil {
		return errors.New("signer is required")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	return nil
}

// Export snapshots subnets, dynamic ranges and static assignments through the
// management API and writes them as per-table YAML documents inside a signed
// tar.zst bundle.
func Export(ctx context.Context, cfg ExportConfig) (Manifest, error) {
	if err := cfg.normalize(); err != nil {
		return Manifest{}, err
	}

	subnets, err := cfg.Client.ListSubnets(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("list subnets: %w", err)
	}
	ranges, err := cfg.Client.ListRanges(ctx, "")
	if err != nil {
		return Manifest{}, fmt.Errorf("list ranges: %w", err)
	}
	statics, err := cfg.Client.ListStaticIPs(ctx, "")
	if err != nil {
		return Manifest{}, fmt.Errorf("list static ips: %w", err)
	}

	docs, err := encodeTables(subnets, ranges, statics)
	if err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{
		Version:          manifestVersion,
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
	}
	for _, doc := range docs {
		sum := sha256.Sum256(doc.data)
		manifest.Tables = append(manifest.Tables, ManifestTable{
			Name:   doc.name,
			File:   doc.file(),
			Rows:   doc.rows,
			Size:   int64(len(doc.data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return Manifest{}, err
	}
	signature, err := cfg.Signer.Sign(payload)
	if err != nil {
		return Manifest{}, err
	}
	manifest.Signature = signature

	if err := writeBundle(cfg.Output, manifest, docs, manifest.CreatedAt); err != nil {
		return Manifest{}, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote %s (%d subnets, %d ranges, %d static assignments)\n",
		cfg.Output, len(subnets), len(ranges), len(statics))
	return manifest, nil
}

func encodeTables(subnets []api.Subnet, ranges []api.DynamicRange, statics []api.StaticIP) ([]tableDoc, error) {
	subnetRows := make([]subnetRow, 0, len(subnets))
	for _, s := range subnets {
		subnetRows = append(subnetRows, subnetRow{
			ID:         s.ID.String(),
			Network:    s.Network,
			PrefixLen:  s.PrefixLen,
			Gateway:    s.Gateway,
			DNSServers: s.DNSServers,
			DomainName: s.DomainName,
			Enabled:    s.Enabled,
		})
	}

	rangeRows := make([]rangeRow, 0, len(ranges))
	for _, r := range ranges {
		rangeRows = append(rangeRows, rangeRow{
			ID:           r.ID.String(),
			SubnetID:     r.SubnetID.String(),
			StartAddress: r.StartAddress,
			EndAddress:   r.EndAddress,
			Enabled:      r.Enabled,
		})
	}

	staticRows := make([]staticRow, 0, len(statics))
	for _, s := range statics {
		staticRows = append(staticRows, staticRow{
			ID:       s.ID.String(),
			SubnetID: s.SubnetID.String(),
			MAC:      s.MAC,
			Address:  s.Address,
			Hostname: s.Hostname,
			Enabled:  s.Enabled,
		})
	}

	docs := make([]tableDoc, 0, 3)
	for _, table := range []struct {
		name string
		rows int
		v    any
	}{
		{tableSubnets, len(subnetRows), subnetRows},
		{tableRanges, len(rangeRows), rangeRows},
		{tableStaticIPs, len(staticRows), staticRows},
	} {
		data, err := yaml.Marshal(table.v)
		if err != nil {
			return nil, fmt.Errorf("encode table %s: %w", table.name, err)
		}
		docs = append(docs, tableDoc{name: table.name, rows: table.rows, data: data})
	}
	return docs, nil
}

func writeBundle(bundlePath string, manifest Manifest, docs []tableDoc, modTime time.Time) (err error) {
	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return err
	}

	f, err := os.Create(bundlePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	writeFile := func(name string, data []byte) error {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  modTime,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(data)
		return err
	}

	if err := writeFile(manifestFileName, manifestBytes); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := writeFile(doc.file(), doc.data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func readBundle(bundlePath string) (Manifest, map[string][]byte, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return Manifest{}, nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return Manifest{}, nil, err
	}
	defer zr.Close()

	var (
		manifest     Manifest
		haveManifest bool
		files        = map[string][]byte{}
	)

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Manifest{}, nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		switch {
		case name == manifestFileName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return Manifest{}, nil, err
			}
			if err := yaml.Unmarshal(data, &manifest); err != nil {
				return Manifest{}, nil, fmt.Errorf("parse manifest: %w", err)
			}
			haveManifest = true
		case strings.HasPrefix(name, tableDirPrefix):
			data, err := io.ReadAll(tr)
			if err != nil {
				return Manifest{}, nil, err
			}
			files[name] = data
		}
	}

	if !haveManifest {
		return Manifest{}, nil, errors.New("bundle has no manifest.yaml")
	}
	return manifest, files, nil
}

// verifyBundle checks the manifest signature and every table digest before
// anything from the bundle is trusted.
func verifyBundle(manifest Manifest, files map[string][]byte, signer *Signer) error {
	if manifest.Version != manifestVersion {
		return fmt.Errorf("unsupported bundle version %q", manifest.Version)
	}
	if strings.TrimSpace(manifest.Signature) == "" {
		return errors.New("bundle manifest is unsigned")
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return err
	}
	if err := signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return err
	}

	if len(manifest.Tables) == 0 {
		return errors.New("bundle manifest lists no tables")
	}
	for _, table := range manifest.Tables {
		data, ok := files[table.File]
		if !ok {
			return fmt.Errorf("table %s: file %s missing from bundle", table.Name, table.File)
		}
		if int64(len(data)) != table.Size {
			return fmt.Errorf("table %s: size %d, manifest says %d", table.Name, len(data), table.Size)
		}
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, table.SHA256) {
			return fmt.Errorf("table %s: checksum mismatch", table.Name)
		}
	}
	return nil
}

// ImportConfig drives Import.
type ImportConfig struct {
	Client     *Client
	BundlePath string
	Signer     *Signer
	// Stdout receives progress output. Defaults to os.Stdout.
	Stdout io.Writer
}

// ImportResult summarises a replayed snapshot.
type ImportResult struct {
	Subnets   int
	Ranges    int
	StaticIPs int
}

// Import verifies a bundle and replays its snapshot through the management
// API. The server assigns fresh IDs, so range and static rows are re-pointed
// at the subnet IDs it hands back.
func Import(ctx context.Context, cfg ImportConfig) (ImportResult, error) {
	var res ImportResult
	if cfg.Client == nil {
		return res, errors.New("client is required")
	}
	if strings.TrimSpace(cfg.BundlePath) == "" {
		return res, errors.New("bundle path is required")
	}
	if cfg.Signer == nil {
		return res, errors.New("signer is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	manifest, files, err := readBundle(cfg.BundlePath)
	if err != nil {
		return res, err
	}
	if err := verifyBundle(manifest, files, cfg.Signer); err != nil {
		return res, err
	}

	var (
		subnets []subnetRow
		ranges  []rangeRow
		statics []staticRow
	)
	for _, table := range manifest.Tables {
		data := files[table.File]
		switch table.Name {
		case tableSubnets:
			err = yaml.Unmarshal(data, &subnets)
		case tableRanges:
			err = yaml.Unmarshal(data, &ranges)
		case tableStaticIPs:
			err = yaml.Unmarshal(data, &statics)
		default:
			err = fmt.Errorf("unknown table %q", table.Name)
		}
		if err != nil {
			return res, fmt.Errorf("decode table %s: %w", table.Name, err)
		}
	}

	subnetIDs := make(map[string]string, len(subnets))

	for _, row := range subnets {
		enabled := row.Enabled
		created, err := cfg.Client.CreateSubnet(ctx, SubnetSpec{
			Network:    row.Network,
			PrefixLen:  row.PrefixLen,
			Gateway:    row.Gateway,
			DNSServers: row.DNSServers,
			DomainName: row.DomainName,
			Enabled:    &enabled,
		})
		if err != nil {
			return res, fmt.Errorf("subnet %s/%d: %w", row.Network, row.PrefixLen, err)
		}
		subnetIDs[row.ID] = created.ID.String()
		res.Subnets++
		fmt.Fprintf(cfg.Stdout, "subnet %s/%d -> %s\n", row.Network, row.PrefixLen, created.ID)
	}

	for _, row := range ranges {
		subnetID, ok := subnetIDs[row.SubnetID]
		if !ok {
			return res, fmt.Errorf("range %s-%s references unknown subnet %s", row.StartAddress, row.EndAddress, row.SubnetID)
		}
		enabled := row.Enabled
		if _, err := cfg.Client.CreateRange(ctx, RangeSpec{
			SubnetID:     subnetID,
			StartAddress: row.StartAddress,
			EndAddress:   row.EndAddress,
			Enabled:      &enabled,
		}); err != nil {
			return res, fmt.Errorf("range %s-%s: %w", row.StartAddress, row.EndAddress, err)
		}
		res.Ranges++
	}

	for _, row := range statics {
		subnetID, ok := subnetIDs[row.SubnetID]
		if !ok {
			return res, fmt.Errorf("static %s references unknown subnet %s", row.MAC, row.SubnetID)
		}
		enabled := row.Enabled
		if _, err := cfg.Client.CreateStaticIP(ctx, StaticIPSpec{
			SubnetID: subnetID,
			MAC:      row.MAC,
			Address:  row.Address,
			Hostname: row.Hostname,
			Enabled:  &enabled,
		}); err != nil {
			return res, fmt.Errorf("static %s: %w", row.MAC, err)
		}
		res.StaticIPs++
	}

	fmt.Fprintf(cfg.Stdout, "imported %d subnets, %d ranges, %d static assignments\n",
		res.Subnets, res.Ranges, res.StaticIPs)
	return res, nil
}

// PushConfig drives Push.
type PushConfig struct {
	S3         *gos3.Client
	BundlePath string
	Bucket     string
	// Key defaults to the bundle's file name.
	Key string
	// PresignTTL bounds the returned download URL. Zero means 1 hour.
	PresignTTL time.Duration
	// Stdout receives progress output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Push uploads a bundle to S3-compatible storage with a SHA-256 checksum and
// returns a presigned GET URL for it.
func Push(ctx context.Context, cfg PushConfig) (string, error) {
	if cfg.S3 == nil {
		return "", errors.New("s3 client is required")
	}
	if strings.TrimSpace(cfg.BundlePath) == "" {
		return "", errors.New("bundle path is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return "", errors.New("bucket is required")
	}
	if cfg.Key == "" {
		cfg.Key = filepath.Base(cfg.BundlePath)
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	f, err := os.Open(cfg.BundlePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	digest := hex.EncodeToString(h.Sum(nil))

	if err := cfg.S3.PutObject(ctx, cfg.Bucket, cfg.Key, f, size, digest); err != nil {
		return "", err
	}

	downloadURL, err := cfg.S3.PresignGet(ctx, cfg.Bucket, cfg.Key, cfg.PresignTTL)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(cfg.Stdout, "uploaded s3://%s/%s (%d bytes, sha256 %s)\n", cfg.Bucket, cfg.Key, size, digest)
	fmt.Fprintln(cfg.Stdout, downloadURL)
	return downloadURL, nil
}
