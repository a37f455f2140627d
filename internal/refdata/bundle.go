// Package refdata loads reference data (zones, region mappings, prefixes)
// and the property/buyer inputs of a matching run.
package refdata

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/areamatch/internal/areacode"
)

// Options locates the reference data on disk.
type Options struct {
	Path         string   // YAML bundle with prefixes, zones and regions
	RegionsPath  string   // optional CSV or XLSX region sheet, appended to the bundle's regions
	RegionsSheet string   // XLSX sheet name; first sheet when empty
	Prefixes     []string // extra prefecture prefixes
}

// LoadBundle reads a YAML (or JSON) reference bundle.
func LoadBundle(path string) (areacode.ReferenceData, error) {
	var ref areacode.ReferenceData

	data, err := os.ReadFile(path)
	if err != nil {
		return ref, eris.Wrapf(err, "refdata: read bundle %s", path)
	}
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return ref, eris.Wrapf(err, "refdata: parse bundle %s", path)
	}
	return ref, nil
}

// Load assembles reference data from a bundle and an optional region sheet.
func Load(ctx context.Context, opts Options) (areacode.ReferenceData, error) {
	var ref areacode.ReferenceData
	if opts.Path != "" {
		b, err := LoadBundle(opts.Path)
		if err != nil {
			return ref, err
		}
		ref = b
	}

	if opts.RegionsPath != "" {
		regions, err := ReadRegions(ctx, opts.RegionsPath, opts.RegionsSheet)
		if err != nil {
			return ref, err
		}
		ref.Regions = append(ref.Regions, regions...)
	}

	ref.Prefixes = mergePrefixes(ref.Prefixes, opts.Prefixes)

	zap.L().Debug("refdata: loaded",
		zap.Int("zones", len(ref.Zones)),
		zap.Int("regions", len(ref.Regions)),
		zap.Int("prefixes", len(ref.Prefixes)),
	)
	return ref, nil
}

// WriteBundle writes reference data as YAML.
func WriteBundle(path string, ref areacode.ReferenceData) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "refdata: write bundle %s", path)
	}
	if err := EncodeBundle(f, ref); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "refdata: write bundle %s", path)
}

// EncodeBundle writes reference data as YAML to w.
func EncodeBundle(w io.Writer, ref areacode.ReferenceData) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(ref); err != nil {
		return eris.Wrap(err, "refdata: encode bundle")
	}
	return eris.Wrap(enc.Close(), "refdata: encode bundle")
}

func mergePrefixes(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, p := range l {
			p = strings.TrimSpace(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
