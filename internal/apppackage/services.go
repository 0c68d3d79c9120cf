package apppackage

import (
	"log/slog"
	"os"

	"github.com/eltociear/marqo/internal/errors"
)

// Custom component identifiers registered in the services manifest.
const (
	ComponentBundle = "marqo-custom-components"

	hybridSearcherClass       = "ai.marqo.search.HybridSearcher"
	indexSettingHandlerClass  = "ai.marqo.index.IndexSettingRequestHandler"
	indexSettingComponentName = "ai.marqo.index.IndexSettings"
	indexSettingConfigName    = "ai.marqo.index.index-settings"
)

// ServicesXML is the services manifest: a tree with exactly one
// content/documents element and exactly one container element.
type ServicesXML struct {
	path      string
	root      *Element
	documents *Element
}

// LoadServicesXML parses and validates the manifest at the given path.
func LoadServicesXML(path string) (*ServicesXML, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Internal("could not find file %s", path)
	}
	root, err := readXMLFile(path)
	if err != nil {
		return nil, errors.Internal("could not parse services manifest %s: %v", path, err)
	}
	s := &ServicesXML{path: path, root: root}
	documents, err := s.ensureOnlyOne("content/documents")
	if err != nil {
		return nil, err
	}
	s.documents = documents
	return s, nil
}

// Save writes the manifest back to its file.
func (s *ServicesXML) Save() error {
	return os.WriteFile(s.path, serializeXML(s.root), 0o644)
}

func (s *ServicesXML) ensureOnlyOne(path string) (*Element, error) {
	elements := s.root.Find(path)
	if len(elements) > 1 {
		return nil, errors.Internal("multiple %s elements found in services.xml, only one is allowed", path)
	}
	if len(elements) == 0 {
		return nil, errors.Internal("no %s element found in services.xml", path)
	}
	return elements[0], nil
}

// AddSchema registers a schema document unless already present.
func (s *ServicesXML) AddSchema(name string) {
	for _, doc := range s.documents.Children {
		if doc.Name == "document" && doc.Attr("type") == name {
			slog.Warn("schema already exists in services.xml, nothing to add", "schema", name)
			return
		}
	}
	doc := s.documents.AddChild("document")
	doc.SetAttr("type", name)
	doc.SetAttr("mode", "index")
}

// RemoveSchema deletes all document registrations for a schema.
func (s *ServicesXML) RemoveSchema(name string) {
	found := false
	s.documents.RemoveChild(func(e *Element) bool {
		match := e.Name == "document" && e.Attr("type") == name
		if match {
			found = true
		}
		return match
	})
	if !found {
		slog.Warn("schema does not exist in services.xml, nothing to remove", "schema", name)
	}
}

// HasSchema reports whether a schema is registered.
func (s *ServicesXML) HasSchema(name string) bool {
	for _, doc := range s.documents.Children {
		if doc.Name == "document" && doc.Attr("type") == name {
			return true
		}
	}
	return false
}

// ConfigComponents rewrites the container-side components to the canonical
// set. The canonicalizer always starts from a clean slate so the manifest
// stays in sync with the component jars.
func (s *ServicesXML) ConfigComponents() error {
	if err := s.cleanupContainerConfig(); err != nil {
		return err
	}
	if err := s.configSearch(); err != nil {
		return err
	}
	return s.configIndexSettingComponents()
}

// cleanupContainerConfig resets the container section: document-api and
// search children are cleared to a known-empty state, and every other
// child except node is removed.
func (s *ServicesXML) cleanupContainerConfig() error {
	container, err := s.ensureOnlyOne("container")
	if err != nil {
		return err
	}
	for _, child := range container.Children {
		if child.Name == "document-api" || child.Name == "search" {
			child.Clear()
		}
	}
	container.RemoveChild(func(e *Element) bool {
		return e.Name != "node" && e.Name != "document-api" && e.Name != "search"
	})
	return nil
}

// configSearch installs the marqo search chain with the hybrid searcher.
func (s *ServicesXML) configSearch() error {
	search, err := s.ensureOnlyOne("container/search")
	if err != nil {
		return err
	}
	chain := search.AddChild("chain")
	chain.SetAttr("id", "marqo")
	chain.SetAttr("inherits", "vespa")
	addComponent(chain, "searcher", hybridSearcherClass)
	return nil
}

// configIndexSettingComponents installs the index-settings HTTP handler and
// the configuration component pointing at the settings JSON files.
func (s *ServicesXML) configIndexSettingComponents() error {
	container, err := s.ensureOnlyOne("container")
	if err != nil {
		return err
	}

	handler := addComponent(container, "handler", indexSettingHandlerClass)
	for _, binding := range []string{"http://*/index-settings/*", "http://*/index-settings"} {
		bindingEl := handler.AddChild("binding")
		bindingEl.Text = binding
	}

	component := addComponent(container, "component", indexSettingComponentName)
	config := component.AddChild("config")
	config.SetAttr("name", indexSettingConfigName)
	config.AddChild("indexSettingsFile").Text = "marqo_index_settings.json"
	config.AddChild("indexSettingsHistoryFile").Text = "marqo_index_settings_history.json"
	return nil
}

func addComponent(parent *Element, tag, name string) *Element {
	el := parent.AddChild(tag)
	el.SetAttr("id", name)
	el.SetAttr("bundle", ComponentBundle)
	return el
}
