package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/areacode"
	"github.com/sells-group/areamatch/internal/model"
	"github.com/sells-group/areamatch/internal/refdata"
	"github.com/sells-group/areamatch/internal/store"
)

var refdataCmd = &cobra.Command{
	Use:     "refdata",
	GroupID: groupData,
	Short:   "Maintain area-code reference data",
}

// --- import ---

var (
	importBundlePath  string
	importRegionsPath string
	importSheet       string
)

var refdataImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a reference bundle and region sheet into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := refdataStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := referenceOptions()
		if importBundlePath != "" {
			opts.Path = importBundlePath
		}
		if importRegionsPath != "" {
			opts.RegionsPath = importRegionsPath
			opts.RegionsSheet = importSheet
		}

		ref, err := refdata.Load(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "load reference files")
		}
		reg, err := areacode.NewRegistry(ref)
		if err != nil {
			return eris.Wrap(err, "validate reference data")
		}

		zones, err := st.ImportZones(ctx, ref.Zones)
		if err != nil {
			return eris.Wrap(err, "import zones")
		}
		mappings, err := st.ImportMappings(ctx, ref.Regions)
		if err != nil {
			return eris.Wrap(err, "import region mappings")
		}

		zap.L().Info("reference data imported",
			zap.Int64("zones", zones),
			zap.Int64("region_mappings", mappings),
			zap.Int("gaps", len(reg.Audit())),
		)
		return nil
	},
}

// --- set-mapping ---

var (
	setMappingRegion   string
	setMappingDistrict string
	setMappingCity     string
	setMappingCodes    string
)

var refdataSetMappingCmd = &cobra.Command{
	Use:   "set-mapping",
	Short: "Insert or replace the area codes of one region (and school district)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := refdataStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := model.RegionMapping{
			City:           setMappingCity,
			Region:         setMappingRegion,
			SchoolDistrict: setMappingDistrict,
			Codes:          refdata.ParseCodes(setMappingCodes),
		}

		gaps, err := setMapping(ctx, st, m)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, gaps)
	},
}

// setMapping applies m to a registry built from the store, then persists
// it. It returns the audit gaps remaining for m's region.
func setMapping(ctx context.Context, st store.Store, m model.RegionMapping) ([]areacode.Gap, error) {
	ref, err := store.LoadReference(ctx, st, cfg.Reference.Prefixes)
	if err != nil {
		return nil, err
	}
	reg, err := areacode.NewRegistry(ref)
	if err != nil {
		return nil, eris.Wrap(err, "build area code registry")
	}

	if m, err = reg.ScopeMapping(m); err != nil {
		return nil, err
	}
	holder := areacode.NewHolder(reg)
	if err := holder.SetMapping(m); err != nil {
		return nil, err
	}
	if err := st.SetMapping(ctx, m); err != nil {
		return nil, eris.Wrap(err, "persist mapping")
	}

	var gaps []areacode.Gap
	for _, g := range holder.Snapshot().Audit() {
		if g.City == m.City && g.Region == m.Region && g.SchoolDistrict == m.SchoolDistrict {
			gaps = append(gaps, g)
		}
	}
	zap.L().Info("region mapping saved",
		zap.String("city", m.City),
		zap.String("region", m.Region),
		zap.String("school_district", m.SchoolDistrict),
		zap.Int("codes", len(m.Codes)),
		zap.Int("gaps", len(gaps)),
	)
	return gaps, nil
}

// --- audit ---

var auditStrict bool

var refdataAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report region mappings that break reference data invariants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg, err := currentRegistry(ctx)
		if err != nil {
			return err
		}

		gaps := reg.Audit()
		if err := writeJSON(os.Stdout, gaps); err != nil {
			return err
		}
		if auditStrict && len(gaps) > 0 {
			return eris.Errorf("reference data has %d gaps", len(gaps))
		}
		return nil
	},
}

// --- list ---

var refdataListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the reference data as a YAML bundle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg, err := currentRegistry(ctx)
		if err != nil {
			return err
		}
		return refdata.EncodeBundle(os.Stdout, reg.Reference())
	},
}

// --- export ---

var exportOutPath string

var refdataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the stored reference data to a YAML bundle file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := refdataStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ref, err := store.LoadReference(ctx, st, cfg.Reference.Prefixes)
		if err != nil {
			return err
		}
		if err := refdata.WriteBundle(exportOutPath, ref); err != nil {
			return err
		}
		zap.L().Info("reference data exported", zap.String("path", exportOutPath))
		return nil
	},
}

// refdataStore opens the configured store; maintenance commands require one.
func refdataStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("refdata"); err != nil {
		return nil, err
	}
	return openStore(ctx)
}

// currentRegistry builds a registry from the store when configured, else
// from the reference files.
func currentRegistry(ctx context.Context) (*areacode.Registry, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
	}
	return loadRegistry(ctx, st)
}

func init() {
	refdataImportCmd.Flags().StringVar(&importBundlePath, "bundle", "", "YAML reference bundle (defaults to reference.path)")
	refdataImportCmd.Flags().StringVar(&importRegionsPath, "regions", "", "CSV or XLSX region sheet")
	refdataImportCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name")

	refdataSetMappingCmd.Flags().StringVar(&setMappingRegion, "region", "", "region name (required)")
	refdataSetMappingCmd.Flags().StringVar(&setMappingDistrict, "school-district", "", "school district")
	refdataSetMappingCmd.Flags().StringVar(&setMappingCity, "city", "", "city or ward")
	refdataSetMappingCmd.Flags().StringVar(&setMappingCodes, "codes", "", "area codes separated by |, comma or spaces")
	_ = refdataSetMappingCmd.MarkFlagRequired("region")

	refdataAuditCmd.Flags().BoolVar(&auditStrict, "strict", false, "exit non-zero when gaps are found")

	refdataExportCmd.Flags().StringVar(&exportOutPath, "out", "reference.yaml", "output bundle path")

	refdataCmd.AddCommand(refdataImportCmd, refdataSetMappingCmd, refdataAuditCmd, refdataListCmd, refdataExportCmd)
	rootCmd.AddCommand(refdataCmd)
}
