package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/areamatch/internal/config"
	"github.com/sells-group/areamatch/internal/model"
	"github.com/sells-group/areamatch/internal/store"
	"github.com/sells-group/areamatch/pkg/maplink"
)

const testBundle = `
prefixes: [東京都]
zones:
  - code: ㊶
    kind: city_wide
    city: 世田谷区
    order: 41
  - code: ㉞
    kind: radius
    reference: {lat: 35.6613, lng: 139.6680}
    threshold_km: 1
    order: 34
regions:
  - city: 世田谷区
    region: 北沢
    area_codes: [㊶]
`

// withConfig installs a test configuration for the package-level cfg.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testBundle), 0o644))

	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Reference.Path = path
	c.Resolver.TimeoutSecs = 1
	c.Resolver.MaxHops = 2
	c.Resolver.UserAgent = "areamatch-test"
	c.Matching.InquiryThresholdKM = 3
	c.Matching.FormatSeparator = ","
	c.Batch.MaxConcurrentProperties = 2
	return c
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"areas", "resolve", "qualify", "refdata"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "areamatch", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_VersionAndGroups(t *testing.T) {
	assert.Equal(t, version, rootCmd.Version)
	assert.True(t, rootCmd.SilenceUsage)

	groups := make(map[string]bool)
	for _, g := range rootCmd.Groups() {
		groups[g.ID] = true
	}
	for _, c := range rootCmd.Commands() {
		if c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		assert.True(t, groups[c.GroupID], "command %q should belong to a registered group", c.Name())
	}
	assert.Equal(t, groupData, refdataCmd.GroupID)
	assert.Equal(t, groupMatch, qualifyCmd.GroupID)
}

func TestRefdataCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range refdataCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"import", "set-mapping", "audit", "list", "export"} {
		assert.True(t, names[name], "refdata should have subcommand %q", name)
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   string
		flags []string
	}{
		{"areas", []string{"address", "city", "link"}},
		{"qualify", []string{"properties", "buyers", "out", "areas-only"}},
		{"resolve", []string{"concurrency"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			c, _, err := rootCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			for _, f := range tt.flags {
				assert.NotNil(t, c.Flags().Lookup(f), "%s should have --%s flag", tt.cmd, f)
			}
		})
	}

	flag := refdataSetMappingCmd.Flags().Lookup("codes")
	require.NotNil(t, flag)
	flag = refdataExportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "reference.yaml", flag.DefValue)
}

func TestInitEnv_FromFiles(t *testing.T) {
	withConfig(t, testConfig(t))

	env, err := initEnv(context.Background(), "areas")
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Store)
	reg := env.Holder.Snapshot()
	assert.Equal(t, []model.AreaCode{"㊶"}, reg.Sort(reg.Lookup("東京都世田谷区北沢3丁目")))
	assert.NotNil(t, env.Resolver)
}

func TestInitEnv_ValidationFails(t *testing.T) {
	c := testConfig(t)
	c.Reference.Path = ""
	withConfig(t, c)

	_, err := initEnv(context.Background(), "areas")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference.path or store.database_url is required")
}

func TestInitEnv_WritesMetricsTextfile(t *testing.T) {
	c := testConfig(t)
	c.Metrics.TextfilePath = filepath.Join(t.TempDir(), "areamatch.prom")
	withConfig(t, c)

	env, err := initEnv(context.Background(), "areas")
	require.NoError(t, err)
	env.Metrics.ObserveResolver("resolved")
	env.Close()

	data, err := os.ReadFile(c.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `areamatch_resolver_results_total{result="resolved"} 1`)
}

func TestResolveLinks_PreservesOrder(t *testing.T) {
	withConfig(t, testConfig(t))
	resolver := newResolver(cfg.Resolver, maplink.NewCache(8, 0))

	links := []string{
		"https://www.google.com/maps/search/35.6613,+139.6680",
		"",
		"not a url",
		"https://www.google.com/maps/place/x/@35.6595,139.7005,17z",
	}
	got := resolveLinks(context.Background(), resolver, links, 3)
	require.Len(t, got, 4)

	assert.True(t, got[0].Resolved)
	assert.InDelta(t, 35.6613, got[0].Coordinate.Lat, 1e-9)
	assert.Equal(t, maplink.ReasonEmptyLink, got[1].Reason)
	assert.False(t, got[2].Resolved)
	assert.Equal(t, links[3], got[3].Link)
	assert.True(t, got[3].Resolved)
}

func TestSetMapping_PersistsAndReportsGaps(t *testing.T) {
	c := testConfig(t)
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "ref.db")
	withConfig(t, c)
	ctx := context.Background()

	st, err := refdataStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	_, err = st.ImportZones(ctx, []model.Zone{
		{Code: "㊶", Kind: model.ZoneKindCityWide, City: "世田谷区", Order: 41},
		{Code: "㉞", Kind: model.ZoneKindRadius, Reference: model.Coordinate{Lat: 35.6613, Lng: 139.6680}, ThresholdKM: 1, Order: 34},
	})
	require.NoError(t, err)

	// Missing the city's catch-all code is saved but reported.
	gaps, err := setMapping(ctx, st, model.RegionMapping{City: "世田谷区", Region: "下北沢", Codes: []model.AreaCode{"㉞"}})
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "missing_city_wide_code", string(gaps[0].Kind))

	gaps, err = setMapping(ctx, st, model.RegionMapping{City: "世田谷区", Region: "下北沢", Codes: []model.AreaCode{"㊶", "㉞"}})
	require.NoError(t, err)
	assert.Empty(t, gaps)

	// Without a city, the existing record of the region is replaced.
	_, err = setMapping(ctx, st, model.RegionMapping{Region: "下北沢", Codes: []model.AreaCode{"㊶", "㉞"}})
	require.NoError(t, err)

	mappings, err := st.ListRegionMappings(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "世田谷区", mappings[0].City)
	assert.Equal(t, []model.AreaCode{"㊶", "㉞"}, mappings[0].Codes)

	// An invalid mapping is rejected before it reaches the store.
	_, err = setMapping(ctx, st, model.RegionMapping{City: "世田谷区"})
	require.Error(t, err)

	ref, err := store.LoadReference(ctx, st, nil)
	require.NoError(t, err)
	assert.Len(t, ref.Regions, 1)
}

func TestRefdataStore_RequiresDatabase(t *testing.T) {
	withConfig(t, testConfig(t))

	_, err := refdataStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}
