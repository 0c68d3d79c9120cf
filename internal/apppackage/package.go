package apppackage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver"
	"github.com/gofrs/flock"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
	"github.com/eltociear/marqo/internal/settings"
)

// Package file names.
const (
	ServicesFile            = "services.xml"
	ConfigFile              = "marqo_config.json"
	ValidationOverridesFile = "validation-overrides.xml"
	QueryProfilePath        = "search/query-profiles/default.xml"
	SchemasDir              = "schemas"
	ComponentsDir           = "components"
)

// componentJars are copied into the package on every bootstrap.
var componentJars = []string{"marqo-custom-components-deploy.jar"}

// defaultVersion is assumed for packages that predate the config document.
const defaultVersion = "2.0.0"

// ApplicationPackage is the files-on-disk view of the deployable backend
// state. One deploy workflow owns the directory at a time, enforced with a
// file lock.
type ApplicationPackage struct {
	rootPath     string
	isConfigured bool

	services      *ServicesXML
	configStore   *ConfigStore
	settingsStore *settings.Store

	// componentsSource holds the jars copied on bootstrap.
	componentsSource string

	lock *flock.Flock
}

// Load constructs a package from a directory, acquiring the single-writer
// lock. componentsSource is the directory holding the custom component
// jars.
func Load(rootPath, componentsSource string) (*ApplicationPackage, error) {
	lock := flock.New(filepath.Join(rootPath, ".marqo_package_lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	if !locked {
		return nil, errors.OperationConflict(
			"application package at %s is owned by another deploy workflow", rootPath)
	}

	p := &ApplicationPackage{
		rootPath:         rootPath,
		componentsSource: componentsSource,
		lock:             lock,
	}

	p.isConfigured = fileExists(p.fullPath(ConfigFile))

	services, err := LoadServicesXML(p.fullPath(ServicesFile))
	if err != nil {
		p.Release()
		return nil, err
	}
	p.services = services

	configStore, err := NewConfigStore(readFileOrDefault(p.fullPath(ConfigFile), ""))
	if err != nil {
		p.Release()
		return nil, err
	}
	p.configStore = configStore

	store, err := settings.Parse(
		readFileOrDefault(p.fullPath(settings.SettingsFile), "{}"),
		readFileOrDefault(p.fullPath(settings.SettingsHistoryFile), "{}"))
	if err != nil {
		p.Release()
		return nil, err
	}
	p.settingsStore = store

	return p, nil
}

// Release gives up the single-writer lock.
func (p *ApplicationPackage) Release() {
	_ = p.lock.Unlock()
}

// RootPath returns the package root directory.
func (p *ApplicationPackage) RootPath() string {
	return p.rootPath
}

// GetConfig returns the package config document, or nil before bootstrap.
func (p *ApplicationPackage) GetConfig() *MarqoConfig {
	return p.configStore.Get()
}

// Settings exposes the index-settings registry backing this package.
func (p *ApplicationPackage) Settings() *settings.Store {
	return p.settingsStore
}

// SaveToDisk writes the manifest, config document, and settings journal.
func (p *ApplicationPackage) SaveToDisk() error {
	if err := p.services.Save(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := p.configStore.SaveToFile(p.fullPath(ConfigFile)); err != nil {
		return err
	}
	return p.settingsStore.SaveToFiles(
		p.fullPath(settings.SettingsFile), p.fullPath(settings.SettingsHistoryFile))
}

// NeedBootstrapping reports whether the package must be (re)bootstrapped
// for the given Marqo version. The deployed version is resolved from the
// config document, then a supplied legacy config document, then a 2.0.0
// default. Downgrades only count when allowDowngrade is set.
func (p *ApplicationPackage) NeedBootstrapping(marqoVersion string, legacyConfig *MarqoConfig,
	allowDowngrade bool) (bool, error) {

	appVersion := defaultVersion
	if p.isConfigured && p.configStore.Get() != nil {
		appVersion = p.configStore.Get().Version
	} else if legacyConfig != nil {
		appVersion = legacyConfig.Version
	}

	newVersion, err := semver.NewVersion(marqoVersion)
	if err != nil {
		return false, errors.InvalidArgument("invalid version %q: %v", marqoVersion, err)
	}
	deployedVersion, err := semver.NewVersion(appVersion)
	if err != nil {
		return false, errors.Internal("invalid deployed version %q: %v", appVersion, err)
	}

	if deployedVersion.LessThan(newVersion) {
		return true, nil
	}
	return newVersion.LessThan(deployedVersion) && allowDowngrade, nil
}

// Bootstrap brings the package to the canonical form for a Marqo version:
// legacy index records are ingested on first configure, the default query
// profile is written, the components bundle directory is refreshed, the
// manifest's container components are canonicalized, and the config
// version is stamped.
func (p *ApplicationPackage) Bootstrap(marqoVersion string, existingIndexRecords []*index.IndexDescriptor) error {
	if !p.isConfigured && len(existingIndexRecords) > 0 {
		for _, record := range existingIndexRecords {
			fresh, err := record.WithVersion(0)
			if err != nil {
				return err
			}
			if _, err := p.settingsStore.Save(fresh); err != nil {
				return err
			}
		}
	}

	if err := p.addDefaultQueryProfile(); err != nil {
		return err
	}
	if err := p.copyComponentsJars(); err != nil {
		return err
	}
	if err := p.services.ConfigComponents(); err != nil {
		return err
	}
	p.configStore.UpdateVersion(marqoVersion)
	return nil
}

// AddIndexAndSchema saves the record through the settings store, writes the
// schema text, and registers the schema in the manifest. Returns the saved
// record carrying its new version.
func (p *ApplicationPackage) AddIndexAndSchema(record *index.IndexDescriptor, schemaText string) (*index.IndexDescriptor, error) {
	saved, err := p.settingsStore.Save(record)
	if err != nil {
		return nil, err
	}
	if err := p.saveTextFile(schemaText, SchemasDir, saved.SchemaName+".sd"); err != nil {
		return nil, err
	}
	p.services.AddSchema(saved.SchemaName)
	return saved, nil
}

// DeleteIndexAndSchema removes an index: its settings record, its schema
// file, its manifest registration, and stamps a validation override
// permitting schema removal.
func (p *ApplicationPackage) DeleteIndexAndSchema(name string) error {
	record := p.settingsStore.Get(name)
	if record == nil {
		return errors.IndexNotFound(name)
	}
	p.settingsStore.Delete(record.Name)
	p.deleteFile(SchemasDir, record.SchemaName+".sd")
	p.services.RemoveSchema(record.SchemaName)
	return p.addSchemaRemovalOverride()
}

// HasSchema reports whether a schema file exists in the package.
func (p *ApplicationPackage) HasSchema(name string) bool {
	return fileExists(p.fullPath(SchemasDir, name+".sd"))
}

// HasIndex reports whether an index is registered.
func (p *ApplicationPackage) HasIndex(name string) bool {
	return p.settingsStore.Get(name) != nil
}

func (p *ApplicationPackage) addDefaultQueryProfile() error {
	content := `<query-profile id="default">
    <field name="maxHits">1000</field>
    <field name="maxOffset">10000</field>
</query-profile>
`
	return p.saveTextFile(content, QueryProfilePath)
}

// copyComponentsJars refreshes the components directory: delete, recreate,
// copy the known jar list.
func (p *ApplicationPackage) copyComponentsJars() error {
	componentsPath := p.fullPath(ComponentsDir)
	if err := os.RemoveAll(componentsPath); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := os.MkdirAll(componentsPath, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	for _, jar := range componentJars {
		if err := copyFile(filepath.Join(p.componentsSource, jar), filepath.Join(componentsPath, jar)); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err)
		}
	}
	return nil
}

// addSchemaRemovalOverride authorizes schema removal through end of the
// current UTC day. The file is rewritten on each delete.
func (p *ApplicationPackage) addSchemaRemovalOverride() error {
	content := fmt.Sprintf(`<validation-overrides>
    <allow until='%s'>schema-removal</allow>
</validation-overrides>
`, time.Now().UTC().Format("2006-01-02"))
	return p.saveTextFile(content, ValidationOverridesFile)
}

func (p *ApplicationPackage) fullPath(parts ...string) string {
	return filepath.Join(append([]string{p.rootPath}, parts...)...)
}

func (p *ApplicationPackage) saveTextFile(content string, parts ...string) error {
	path := p.fullPath(parts...)
	if fileExists(path) {
		slog.Warn("file already exists in application package, overwriting", "path", path)
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

func (p *ApplicationPackage) deleteFile(parts ...string) {
	path := p.fullPath(parts...)
	if !fileExists(path) {
		slog.Warn("file does not exist in application package, nothing to delete", "path", path)
		return
	}
	_ = os.Remove(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readFileOrDefault(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return string(data)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
