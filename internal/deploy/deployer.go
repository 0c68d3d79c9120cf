// Package deploy orchestrates version-gated install, upgrade, rollback,
// and schema add/remove against the backend.
package deploy

import (
	"context"
	"log/slog"
	"time"

	"github.com/eltociear/marqo/internal/apppackage"
	"github.com/eltociear/marqo/internal/index"
	"github.com/eltociear/marqo/internal/schema"
	"github.com/eltociear/marqo/internal/vespa"
)

// Deployer ties the local application package to the backend deploy API.
// It owns the package working directory for the duration of a workflow;
// the backend enforces convergence before subsequent deploys succeed.
type Deployer struct {
	client *vespa.Client

	// WorkDir is the local package working directory.
	WorkDir string
	// ComponentsDir holds the custom component jars.
	ComponentsDir string

	// DeployTimeout bounds a single deploy request.
	DeployTimeout time.Duration
	// ConvergenceTimeout bounds the wait for application convergence.
	ConvergenceTimeout time.Duration
}

// New creates a deployer.
func New(client *vespa.Client, workDir, componentsDir string) *Deployer {
	return &Deployer{
		client:             client,
		WorkDir:            workDir,
		ComponentsDir:      componentsDir,
		DeployTimeout:      vespa.DefaultDeployTimeout,
		ConvergenceTimeout: vespa.DefaultConvergenceTimeout,
	}
}

// Bootstrap downloads the current package, bootstraps it when the version
// gate allows, and deploys the result. Returns true when a bootstrap
// actually happened. allowDowngrade permits rollback to an older version.
func (d *Deployer) Bootstrap(ctx context.Context, marqoVersion string, legacyConfig *apppackage.MarqoConfig,
	legacyIndexRecords []*index.IndexDescriptor, allowDowngrade bool) (bool, error) {

	if err := d.client.DownloadApplication(ctx, d.WorkDir); err != nil {
		return false, err
	}

	pkg, err := apppackage.Load(d.WorkDir, d.ComponentsDir)
	if err != nil {
		return false, err
	}
	defer pkg.Release()

	needed, err := pkg.NeedBootstrapping(marqoVersion, legacyConfig, allowDowngrade)
	if err != nil {
		return false, err
	}
	if !needed {
		slog.Info("application package already at version, skipping bootstrap", "version", marqoVersion)
		return false, nil
	}

	if err := pkg.Bootstrap(marqoVersion, legacyIndexRecords); err != nil {
		return false, err
	}
	if err := pkg.SaveToDisk(); err != nil {
		return false, err
	}
	if err := d.deployAndConverge(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// CreateIndex generates the schema for a descriptor, registers it in the
// package, and deploys. The settings store's version check makes racing
// creators fail with a conflict.
func (d *Deployer) CreateIndex(ctx context.Context, record *index.IndexDescriptor) (*index.IndexDescriptor, error) {
	pkg, err := apppackage.Load(d.WorkDir, d.ComponentsDir)
	if err != nil {
		return nil, err
	}
	defer pkg.Release()

	// The schema text must carry the post-save schema name, so generate
	// from the record at its target version before the store assigns it.
	target, err := record.WithVersion(record.Version + 1)
	if err != nil {
		return nil, err
	}
	schemaText, err := schema.Generate(target)
	if err != nil {
		return nil, err
	}
	saved, err := pkg.AddIndexAndSchema(record, schemaText)
	if err != nil {
		return nil, err
	}
	if err := pkg.SaveToDisk(); err != nil {
		return nil, err
	}
	if err := d.deployAndConverge(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteIndex removes an index's settings and schema and deploys. The
// validation override stamped by the package authorizes the schema removal
// until end of the current UTC day.
func (d *Deployer) DeleteIndex(ctx context.Context, name string) error {
	pkg, err := apppackage.Load(d.WorkDir, d.ComponentsDir)
	if err != nil {
		return err
	}
	defer pkg.Release()

	if err := pkg.DeleteIndexAndSchema(name); err != nil {
		return err
	}
	if err := pkg.SaveToDisk(); err != nil {
		return err
	}
	return d.deployAndConverge(ctx)
}

func (d *Deployer) deployAndConverge(ctx context.Context) error {
	if err := d.client.DeployApplication(ctx, d.WorkDir, d.DeployTimeout); err != nil {
		return err
	}
	return d.client.WaitForApplicationConvergence(ctx, d.ConvergenceTimeout)
}
