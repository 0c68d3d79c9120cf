// Package apppackage manages the files-on-disk view of the backend
// application package: the services manifest, the config document, the
// index settings journal, schemas, and custom components.
package apppackage

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// Attr is one XML attribute.
type Attr struct {
	Key   string
	Value string
}

// Element is a node of a typed XML tree. The services manifest is always
// manipulated through this tree and rewritten whole, never edited in place
// as text.
type Element struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// Attr returns the value of an attribute, or "".
func (e *Element) Attr(key string) string {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// SetAttr sets or replaces an attribute.
func (e *Element) SetAttr(key, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Key == key {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Key: key, Value: value})
}

// AddChild appends a child element and returns it.
func (e *Element) AddChild(name string) *Element {
	child := &Element{Name: name}
	e.Children = append(e.Children, child)
	return child
}

// RemoveChild deletes all direct children matching the predicate.
func (e *Element) RemoveChild(match func(*Element) bool) {
	kept := e.Children[:0]
	for _, child := range e.Children {
		if !match(child) {
			kept = append(kept, child)
		}
	}
	e.Children = kept
}

// Clear removes all children, attributes, and text.
func (e *Element) Clear() {
	e.Children = nil
	e.Attrs = nil
	e.Text = ""
}

// Find returns all elements matching a '/'-separated child path relative
// to this element.
func (e *Element) Find(path string) []*Element {
	parts := strings.Split(path, "/")
	current := []*Element{e}
	for _, part := range parts {
		var next []*Element
		for _, el := range current {
			for _, child := range el.Children {
				if child.Name == part {
					next = append(next, child)
				}
			}
		}
		current = next
	}
	return current
}

// parseXML decodes an XML document into an Element tree.
func parseXML(data []byte) (*Element, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	var root *Element
	var stack []*Element

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local}
			for _, a := range t.Attr {
				el.Attrs = append(el.Attrs, Attr{Key: a.Name.Local, Value: a.Value})
			}
			if len(stack) == 0 {
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				text := strings.TrimSpace(string(t))
				if text != "" {
					stack[len(stack)-1].Text += text
				}
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("no root element found")
	}
	return root, nil
}

// serializeXML renders the tree with two-space indentation.
func serializeXML(root *Element) []byte {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	writeElement(&sb, root, 0)
	return []byte(sb.String())
}

func writeElement(sb *strings.Builder, e *Element, depth int) {
	indent := strings.Repeat("  ", depth)
	sb.WriteString(indent)
	sb.WriteString("<")
	sb.WriteString(e.Name)
	for _, a := range e.Attrs {
		sb.WriteString(fmt.Sprintf(" %s=%q", a.Key, a.Value))
	}

	if len(e.Children) == 0 && e.Text == "" {
		sb.WriteString("/>\n")
		return
	}

	sb.WriteString(">")
	if len(e.Children) == 0 {
		sb.WriteString(escapeText(e.Text))
		sb.WriteString("</")
		sb.WriteString(e.Name)
		sb.WriteString(">\n")
		return
	}

	sb.WriteString("\n")
	if e.Text != "" {
		sb.WriteString(strings.Repeat("  ", depth+1))
		sb.WriteString(escapeText(e.Text))
		sb.WriteString("\n")
	}
	for _, child := range e.Children {
		writeElement(sb, child, depth+1)
	}
	sb.WriteString(indent)
	sb.WriteString("</")
	sb.WriteString(e.Name)
	sb.WriteString(">\n")
}

func escapeText(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

// readXMLFile parses an XML file into an Element tree.
func readXMLFile(path string) (*Element, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseXML(data)
}
