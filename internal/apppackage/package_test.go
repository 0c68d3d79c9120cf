package apppackage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
)

const testServicesXML = `<?xml version="1.0" encoding="utf-8"?>
<services version="1.0">
  <container id="default" version="1.0">
    <document-api/>
    <search/>
    <node hostalias="node1"/>
  </container>
  <content id="content_default" version="1.0">
    <documents>
      <document type="existing_1" mode="index"/>
    </documents>
    <nodes>
      <node hostalias="node1" distribution-key="0"/>
    </nodes>
  </content>
</services>
`

// newTestPackageDir lays out a minimal package with a components source
// directory holding the jar the bootstrap copies.
func newTestPackageDir(t *testing.T, configJSON string) (rootDir, componentsSource string) {
	t.Helper()
	rootDir = t.TempDir()
	componentsSource = t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(rootDir, ServicesFile), []byte(testServicesXML), 0o644))
	if configJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(rootDir, ConfigFile), []byte(configJSON), 0o644))
	}
	for _, jar := range componentJars {
		require.NoError(t, os.WriteFile(filepath.Join(componentsSource, jar), []byte("jar"), 0o644))
	}
	return rootDir, componentsSource
}

func testRecord(t *testing.T, name string) *index.IndexDescriptor {
	t.Helper()
	d, err := index.New(name, index.IndexTypeStructured,
		index.Model{Name: "hf/e5-base-v2", Dimension: 4},
		index.DistanceMetricAngular,
		index.HNSWConfig{M: 16, EfConstruction: 128},
		[]index.Field{{Name: "body", Type: index.FieldTypeText,
			Features: []index.FieldFeature{index.FeatureLexicalSearch}}},
		[]index.TensorField{{Name: "body"}},
	)
	require.NoError(t, err)
	return d
}

func TestNeedBootstrapping(t *testing.T) {
	tests := []struct {
		name           string
		configJSON     string
		legacy         *MarqoConfig
		marqoVersion   string
		allowDowngrade bool
		want           bool
	}{
		{"upgrade from config", `{"version":"2.10.0"}`, nil, "2.12.0", false, true},
		{"same version", `{"version":"2.12.0"}`, nil, "2.12.0", false, false},
		{"downgrade blocked", `{"version":"2.12.0"}`, nil, "2.10.0", false, false},
		{"downgrade allowed", `{"version":"2.12.0"}`, nil, "2.10.0", true, true},
		{"legacy config used", "", &MarqoConfig{Version: "2.5.0"}, "2.12.0", false, true},
		{"default 2.0.0", "", nil, "2.12.0", false, true},
		{"default not newer", "", nil, "1.9.0", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootDir, componentsSource := newTestPackageDir(t, tt.configJSON)
			pkg, err := Load(rootDir, componentsSource)
			require.NoError(t, err)
			defer pkg.Release()

			got, err := pkg.NeedBootstrapping(tt.marqoVersion, tt.legacy, tt.allowDowngrade)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeedBootstrapping_MonotoneWithoutDowngrade(t *testing.T) {
	rootDir, componentsSource := newTestPackageDir(t, `{"version":"2.10.0"}`)
	pkg, err := Load(rootDir, componentsSource)
	require.NoError(t, err)
	defer pkg.Release()

	versions := []string{"2.8.0", "2.9.9", "2.10.0", "2.10.1", "2.11.0", "3.0.0"}
	previous := false
	for _, v := range versions {
		got, err := pkg.NeedBootstrapping(v, nil, false)
		require.NoError(t, err)
		// Once true for some version, it stays true for every higher one.
		assert.False(t, previous && !got, "need_bootstrapping not monotone at %s", v)
		previous = got
	}
}

func TestBootstrap_UpgradeScenario(t *testing.T) {
	rootDir, componentsSource := newTestPackageDir(t, `{"version":"2.10.0"}`)
	pkg, err := Load(rootDir, componentsSource)
	require.NoError(t, err)
	defer pkg.Release()

	needed, err := pkg.NeedBootstrapping("2.12.0", nil, false)
	require.NoError(t, err)
	require.True(t, needed)

	require.NoError(t, pkg.Bootstrap("2.12.0", nil))
	require.NoError(t, pkg.SaveToDisk())

	assert.Equal(t, "2.12.0", pkg.GetConfig().Version)

	// The manifest must contain exactly one marqo search chain with one
	// searcher.
	services, err := LoadServicesXML(filepath.Join(rootDir, ServicesFile))
	require.NoError(t, err)
	chains := services.root.Find("container/search/chain")
	require.Len(t, chains, 1)
	assert.Equal(t, "marqo", chains[0].Attr("id"))
	assert.Equal(t, "vespa", chains[0].Attr("inherits"))
	searchers := chains[0].Find("searcher")
	require.Len(t, searchers, 1)
	assert.Equal(t, ComponentBundle, searchers[0].Attr("bundle"))

	// Bootstrap is idempotent at the manifest level: a second run still
	// leaves exactly one chain.
	require.NoError(t, pkg.Bootstrap("2.12.0", nil))
	chains = pkg.services.root.Find("container/search/chain")
	assert.Len(t, chains, 1)

	// Query profile and components refreshed.
	assert.FileExists(t, filepath.Join(rootDir, "search", "query-profiles", "default.xml"))
	assert.FileExists(t, filepath.Join(rootDir, ComponentsDir, componentJars[0]))
}

func TestBootstrap_IngestsLegacyRecords(t *testing.T) {
	rootDir, componentsSource := newTestPackageDir(t, "")
	pkg, err := Load(rootDir, componentsSource)
	require.NoError(t, err)
	defer pkg.Release()

	legacy := testRecord(t, "legacy_index")
	require.NoError(t, pkg.Bootstrap("2.12.0", []*index.IndexDescriptor{legacy}))

	record := pkg.Settings().Get("legacy_index")
	require.NotNil(t, record)
	assert.Equal(t, 1, record.Version)
}

func TestBootstrap_ConfigExtraFieldsPreserved(t *testing.T) {
	rootDir, componentsSource := newTestPackageDir(t, `{"version":"2.10.0","cluster":"main"}`)
	pkg, err := Load(rootDir, componentsSource)
	require.NoError(t, err)
	defer pkg.Release()

	require.NoError(t, pkg.Bootstrap("2.12.0", nil))
	require.NoError(t, pkg.SaveToDisk())

	data, err := os.ReadFile(filepath.Join(rootDir, ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cluster":"main"`)
	assert.Contains(t, string(data), `"version":"2.12.0"`)
}

func TestAddAndDeleteIndexAndSchema(t *testing.T) {
	rootDir, componentsSource := newTestPackageDir(t, `{"version":"2.12.0"}`)
	pkg, err := Load(rootDir, componentsSource)
	require.NoError(t, err)
	defer pkg.Release()

	record := testRecord(t, "films")
	saved, err := pkg.AddIndexAndSchema(record, "schema films_1 { }")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)

	assert.True(t, pkg.HasIndex("films"))
	assert.True(t, pkg.HasSchema(saved.SchemaName))
	assert.True(t, pkg.services.HasSchema(saved.SchemaName))

	require.NoError(t, pkg.DeleteIndexAndSchema("films"))
	assert.False(t, pkg.HasIndex("films"))
	assert.False(t, pkg.HasSchema(saved.SchemaName))
	assert.False(t, pkg.services.HasSchema(saved.SchemaName))

	// The delete stamps a validation override ending on the current UTC day.
	data, err := os.ReadFile(filepath.Join(rootDir, ValidationOverridesFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "schema-removal")
	assert.Contains(t, string(data), time.Now().UTC().Format("2006-01-02"))
}

func TestDeleteIndexAndSchema_Unknown(t *testing.T) {
	rootDir, componentsSource := newTestPackageDir(t, `{"version":"2.12.0"}`)
	pkg, err := Load(rootDir, componentsSource)
	require.NoError(t, err)
	defer pkg.Release()

	err = pkg.DeleteIndexAndSchema("nope")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexNotFound, errors.CodeOf(err))
}

func TestLoad_SecondWriterConflicts(t *testing.T) {
	rootDir, componentsSource := newTestPackageDir(t, "")
	pkg, err := Load(rootDir, componentsSource)
	require.NoError(t, err)
	defer pkg.Release()

	_, err = Load(rootDir, componentsSource)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeOperationConflict, errors.CodeOf(err))
}

func TestServicesXML_AddRemoveSchema(t *testing.T) {
	rootDir, _ := newTestPackageDir(t, "")
	services, err := LoadServicesXML(filepath.Join(rootDir, ServicesFile))
	require.NoError(t, err)

	assert.True(t, services.HasSchema("existing_1"))

	services.AddSchema("new_schema")
	assert.True(t, services.HasSchema("new_schema"))
	// Adding twice does not duplicate.
	services.AddSchema("new_schema")
	count := 0
	for _, doc := range services.documents.Children {
		if doc.Attr("type") == "new_schema" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	services.RemoveSchema("new_schema")
	assert.False(t, services.HasSchema("new_schema"))
	// Removing an absent schema is a warning no-op.
	services.RemoveSchema("new_schema")
}

func TestServicesXML_MissingDocumentsIsInternalError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ServicesFile)
	require.NoError(t, os.WriteFile(path,
		[]byte(`<services><container id="default"/></services>`), 0o644))

	_, err := LoadServicesXML(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
}
