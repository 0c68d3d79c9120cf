package deploy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
	"github.com/eltociear/marqo/internal/vespa"
)

const testServicesXML = `<?xml version="1.0" encoding="utf-8"?>
<services version="1.0">
  <container id="default" version="1.0">
    <document-api/>
    <search/>
    <node hostalias="node1"/>
  </container>
  <content id="content_default" version="1.0">
    <documents/>
  </content>
</services>
`

func newTestBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var deploys atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/prepareandactivate"):
			deploys.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"session-id": "2"})
		case strings.HasSuffix(r.URL.Path, "/serviceconverge"):
			_ = json.NewEncoder(w).Encode(map[string]any{"converged": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &deploys
}

func newWorkDir(t *testing.T) (workDir, componentsDir string) {
	t.Helper()
	workDir = t.TempDir()
	componentsDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "services.xml"), []byte(testServicesXML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "marqo_config.json"),
		[]byte(`{"version":"2.12.0"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(componentsDir, "marqo-custom-components-deploy.jar"),
		[]byte("jar"), 0o644))
	return workDir, componentsDir
}

func testRecord(t *testing.T) *index.IndexDescriptor {
	t.Helper()
	d, err := index.New("films", index.IndexTypeStructured,
		index.Model{Name: "hf/e5-base-v2", Dimension: 4},
		index.DistanceMetricAngular,
		index.HNSWConfig{M: 16, EfConstruction: 128},
		[]index.Field{{Name: "title", Type: index.FieldTypeText,
			Features: []index.FieldFeature{index.FeatureLexicalSearch}}},
		[]index.TensorField{{Name: "title"}},
	)
	require.NoError(t, err)
	return d
}

func TestCreateIndex_WritesSchemaAndDeploys(t *testing.T) {
	server, deploys := newTestBackend(t)
	workDir, componentsDir := newWorkDir(t)

	client := vespa.NewClient(server.URL, server.URL, server.URL, 2)
	defer client.Close()
	deployer := New(client, workDir, componentsDir)

	saved, err := deployer.CreateIndex(context.Background(), testRecord(t))
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)
	assert.Equal(t, "films_1", saved.SchemaName)
	assert.Equal(t, int32(1), deploys.Load())

	// The schema file carries the post-save schema name.
	schemaPath := filepath.Join(workDir, "schemas", "films_1.sd")
	data, err := os.ReadFile(schemaPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "schema films_1 {")

	// Settings journal written to disk.
	assert.FileExists(t, filepath.Join(workDir, "marqo_index_settings.json"))
	assert.FileExists(t, filepath.Join(workDir, "marqo_index_settings_history.json"))
}

func TestDeleteIndex_UnknownIndex(t *testing.T) {
	server, _ := newTestBackend(t)
	workDir, componentsDir := newWorkDir(t)

	client := vespa.NewClient(server.URL, server.URL, server.URL, 2)
	defer client.Close()
	deployer := New(client, workDir, componentsDir)

	err := deployer.DeleteIndex(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexNotFound, errors.CodeOf(err))
}

func TestCreateThenDeleteIndex(t *testing.T) {
	server, deploys := newTestBackend(t)
	workDir, componentsDir := newWorkDir(t)

	client := vespa.NewClient(server.URL, server.URL, server.URL, 2)
	defer client.Close()
	deployer := New(client, workDir, componentsDir)

	_, err := deployer.CreateIndex(context.Background(), testRecord(t))
	require.NoError(t, err)

	require.NoError(t, deployer.DeleteIndex(context.Background(), "films"))
	assert.Equal(t, int32(2), deploys.Load())
	assert.NoFileExists(t, filepath.Join(workDir, "schemas", "films_1.sd"))
	assert.FileExists(t, filepath.Join(workDir, "validation-overrides.xml"))
}
