package refdata

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/areamatch/internal/areacode"
	"github.com/sells-group/areamatch/internal/model"
)

const testBundle = `
prefixes: [東京都]
zones:
  - code: Ⓡ
    kind: radius
    reference: {lat: 35.6595, lng: 139.7005}
    threshold_km: 3
    order: 1
  - code: ㊶
    kind: city_wide
    city: 世田谷区
    order: 41
regions:
  - city: 世田谷区
    region: 北沢
    area_codes: [㊶]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "regions.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadBundle(t *testing.T) {
	ref, err := LoadBundle(writeFile(t, "ref.yaml", testBundle))
	require.NoError(t, err)

	assert.Equal(t, []string{"東京都"}, ref.Prefixes)
	require.Len(t, ref.Zones, 2)
	assert.Equal(t, model.ZoneKindRadius, ref.Zones[0].Kind)
	assert.InDelta(t, 139.7005, ref.Zones[0].Reference.Lng, 1e-9)
	assert.InDelta(t, 3.0, ref.Zones[0].ThresholdKM, 0)
	assert.Equal(t, []model.AreaCode{"㊶"}, ref.Regions[0].Codes)

	_, err = areacode.NewRegistry(ref)
	assert.NoError(t, err)
}

func TestLoadBundle_Errors(t *testing.T) {
	_, err := LoadBundle(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refdata: read bundle")

	_, err = LoadBundle(writeFile(t, "bad.yaml", "zones: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refdata: parse bundle")
}

func TestWriteBundle_RoundTrip(t *testing.T) {
	ref, err := LoadBundle(writeFile(t, "ref.yaml", testBundle))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, WriteBundle(out, ref))
	again, err := LoadBundle(out)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
}

func TestLoad_MergesSheetAndPrefixes(t *testing.T) {
	bundle := writeFile(t, "ref.yaml", testBundle)
	sheet := writeFile(t, "regions.csv", "city,region,school_district,area_codes\n世田谷区,下北沢,,㊶|Ⓡ\n")

	ref, err := Load(context.Background(), Options{
		Path:        bundle,
		RegionsPath: sheet,
		Prefixes:    []string{"東京都", "神奈川県"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"東京都", "神奈川県"}, ref.Prefixes)
	require.Len(t, ref.Regions, 2)
	assert.Equal(t, "下北沢", ref.Regions[1].Region)
	assert.Equal(t, []model.AreaCode{"㊶", "Ⓡ"}, ref.Regions[1].Codes)
}

func TestReadRegionsCSV(t *testing.T) {
	input := "\ufeffWard,Region_Name,School,Codes\n" +
		"世田谷区,桜丘,桜丘小,\"㊶, ㉛\"\n" +
		",,,\n" +
		"世田谷区,砧,,㊶㉟\n" +
		"渋谷区,神南,,R1 R2\n"

	got, err := ReadRegionsCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []model.RegionMapping{
		{City: "世田谷区", Region: "桜丘", SchoolDistrict: "桜丘小", Codes: []model.AreaCode{"㊶", "㉛"}},
		{City: "世田谷区", Region: "砧", Codes: []model.AreaCode{"㊶", "㉟"}},
		{City: "渋谷区", Region: "神南", Codes: []model.AreaCode{"R1", "R2"}},
	}, got)
}

func TestReadRegionsCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "region sheet is empty"},
		{"missing codes column", "city,region\n世田谷区,北沢\n", `missing "area_codes" column`},
		{"row without region", "region,area_codes\n,㊶\n", "row 2 has no region"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRegionsCSV(context.Background(), strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadRegionsXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"regions": {
			{"city", "region", "school_district", "area_codes"},
			{"世田谷区", "北沢", "", "㊶"},
			{"世田谷区", "桜丘", "桜丘中", "㊶|㉜"},
		},
	})

	got, err := ReadRegions(context.Background(), path, "regions")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "桜丘中", got[1].SchoolDistrict)
	assert.Equal(t, []model.AreaCode{"㊶", "㉜"}, got[1].Codes)

	got, err = ReadRegions(context.Background(), path, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = ReadRegions(context.Background(), path, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "missing" not found`)
}

func TestReadRegions_UnsupportedExtension(t *testing.T) {
	_, err := ReadRegions(context.Background(), writeFile(t, "regions.txt", "x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported region sheet")
}

func TestParseCodes(t *testing.T) {
	tests := []struct {
		cell string
		want []model.AreaCode
	}{
		{"㊶", []model.AreaCode{"㊶"}},
		{"㊶㉑Ⓡ", []model.AreaCode{"㊶", "㉑", "Ⓡ"}},
		{"㊶|㉑", []model.AreaCode{"㊶", "㉑"}},
		{"㊶、㉑", []model.AreaCode{"㊶", "㉑"}},
		{" R1 , R2 ", []model.AreaCode{"R1", "R2"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCodes(tt.cell))
		})
	}
}

func TestLoadBuyersAndProperties(t *testing.T) {
	buyers := writeFile(t, "buyers.json", `[
		{"id": "B-1", "email": "a@example.com", "desired_areas": ["㊶"], "status": "active",
		 "price_min": null, "price_max": 50000000, "distribution_opt_in": true,
		 "inquiry_history": [{"lat": 35.66, "lng": 139.70, "date": "2024-03-01", "property_ref": "P-7"}]},
		{"id": "B-2", "desired_areas": []}
	]`)
	props := writeFile(t, "props.json", `[
		{"ref": "P-1", "address": "東京都世田谷区北沢2丁目", "map_link": null, "price": 48000000}
	]`)

	bs, err := LoadBuyers(context.Background(), buyers)
	require.NoError(t, err)
	require.Len(t, bs, 2)
	assert.True(t, bs[0].OptIn)
	assert.Nil(t, bs[0].PriceMin)
	require.NotNil(t, bs[0].PriceMax)
	assert.InDelta(t, 50_000_000, *bs[0].PriceMax, 0)
	require.Len(t, bs[0].Inquiries, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), bs[0].Inquiries[0].Date)
	assert.Empty(t, bs[0].Defect)
	assert.Empty(t, bs[1].Email, "incomplete records load; the engine skips them")
	assert.Equal(t, model.DefectMissingStatus, bs[1].Defect)

	ps, err := LoadProperties(context.Background(), props)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Empty(t, ps[0].MapLink)
	require.NotNil(t, ps[0].Price)
}

func TestDecodeArray_Errors(t *testing.T) {
	_, err := DecodeArray[model.Property](context.Background(), strings.NewReader(`{"ref": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")

	_, err = DecodeArray[model.Property](context.Background(), strings.NewReader(`[{"ref": 1}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode element 0")

	got, err := DecodeArray[model.Property](context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeBuyers_BadRecordsDoNotAbort(t *testing.T) {
	const good = `"status": "active", "distribution_opt_in": true`
	input := `[
		{"id": "B-1", "email": "a@example.com", ` + good + `},
		{"id": "B-2", "email": "b@example.com", "price_min": "cheap", ` + good + `},
		{"id": "B-3", "email": "c@example.com", "inquiry_history": [{"lat": 35.6, "lng": 139.7, "date": "2024/03/01"}], ` + good + `},
		{"id": 4, "email": "d@example.com"},
		"not an object",
		{"id": "B-6", "email": "f@example.com", "status": "active"},
		{"id": "B-7", "email": "g@example.com", ` + good + `}
	]`

	got, err := DecodeBuyers(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 7)

	tests := []struct {
		id     string
		email  string
		defect model.BuyerDefect
	}{
		{"B-1", "a@example.com", ""},
		{"B-2", "b@example.com", model.DefectUndecodable},
		{"B-3", "c@example.com", model.DefectUndecodable},
		{"", "d@example.com", model.DefectUndecodable},
		{"", "", model.DefectUndecodable},
		{"B-6", "f@example.com", model.DefectMissingOptIn},
		{"B-7", "g@example.com", ""},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.id, got[i].ID, "record %d", i)
		assert.Equal(t, tt.email, got[i].Email, "record %d", i)
		assert.Equal(t, tt.defect, got[i].Defect, "record %d", i)
	}
	assert.True(t, got[6].OptIn)

	_, err = DecodeBuyers(context.Background(), strings.NewReader(`[{"id": "B-1"`))
	require.Error(t, err, "a truncated array still fails")
}
