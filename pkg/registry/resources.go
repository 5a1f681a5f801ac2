// Copyright 2026 Metis Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"strings"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/template"
)

// ListResources returns every configured static resource.
func (r *Registry) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	resources := make([]protocol.Resource, 0, len(snap.Config.Resources))
	for i := range snap.Config.Resources {
		res := &snap.Config.Resources[i]
		resources = append(resources, protocol.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MimeType,
		})
	}
	return resources, nil
}

// ListResourceTemplates returns every configured resource template.
func (r *Registry) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	templates := make([]protocol.ResourceTemplate, 0, len(snap.Config.ResourceTemplates))
	for i := range snap.Config.ResourceTemplates {
		rt := &snap.Config.ResourceTemplates[i]
		templates = append(templates, protocol.ResourceTemplate{
			URITemplate: rt.URITemplate,
			Name:        rt.Name,
			Description: rt.Description,
			MimeType:    rt.MimeType,
		})
	}
	return templates, nil
}

// ReadResource resolves a URI: exact resources first, then resource
// templates with {param} placeholders bound from the URI.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	if res, ok := snap.ResourceByURI(uri); ok {
		return r.resourceContents(ctx, uri, res.MimeType, res.Content, res.Mock, nil)
	}

	for i := range snap.Config.ResourceTemplates {
		rt := &snap.Config.ResourceTemplates[i]
		params, ok := matchURITemplate(rt.URITemplate, uri)
		if !ok {
			continue
		}
		return r.resourceContents(ctx, uri, rt.MimeType, rt.Content, rt.Mock, params)
	}

	return nil, metiserr.New(metiserr.KindNotFound, "resource %q not found", uri)
}

// readResourceByName serves the resource_{name} tool surface.
func (r *Registry) readResourceByName(ctx context.Context, name string) (interface{}, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	res, ok := snap.Resource(name)
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "resource %q not found", name)
	}
	contents, err := r.resourceContents(ctx, res.URI, res.MimeType, res.Content, res.Mock, nil)
	if err != nil {
		return nil, err
	}
	return template.PromoteJSON(contents.Text), nil
}

// readTemplateByName serves the resource_template_{name} tool surface.
// Arguments bind the URI template's parameters.
func (r *Registry) readTemplateByName(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	rt, ok := snap.ResourceTemplate(name)
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "resource template %q not found", name)
	}

	for _, p := range templateParams(rt.URITemplate) {
		if _, ok := args[p]; !ok {
			return nil, metiserr.New(metiserr.KindInvalidRequest, "resource template %q requires parameter %q", name, p)
		}
	}

	uri, err := expandURITemplate(rt.URITemplate, args)
	if err != nil {
		return nil, err
	}
	contents, err := r.resourceContents(ctx, uri, rt.MimeType, rt.Content, rt.Mock, args)
	if err != nil {
		return nil, err
	}
	return template.PromoteJSON(contents.Text), nil
}

// resourceContents materializes a resource body from its static content
// or mock config. Template parameters feed both the mock arguments and
// the content renderer.
func (r *Registry) resourceContents(ctx context.Context, uri, mimeType string, content interface{}, mockCfg *config.MockConfig, params map[string]interface{}) (*protocol.ResourceContents, error) {
	var value interface{}
	switch {
	case mockCfg != nil:
		generated, err := r.engine.Generate(ctx, mockCfg, params)
		if err != nil {
			return nil, err
		}
		value = generated
	case content != nil:
		rendered, err := template.RenderValue(content, params)
		if err != nil {
			return nil, err
		}
		value = rendered
	default:
		value = ""
	}

	text, err := encodeJSON(value)
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		if _, isString := value.(string); isString {
			mimeType = "text/plain"
		} else {
			mimeType = "application/json"
		}
	}
	return &protocol.ResourceContents{URI: uri, MimeType: mimeType, Text: text}, nil
}

// matchURITemplate binds {param} placeholders against a concrete URI.
// Parameters match greedily up to the next literal segment; the match
// must consume the whole URI.
func matchURITemplate(uriTemplate, uri string) (map[string]interface{}, bool) {
	params := map[string]interface{}{}
	rest := uri

	tmpl := uriTemplate
	for len(tmpl) > 0 {
		open := strings.Index(tmpl, "{")
		if open < 0 {
			if rest == tmpl {
				return params, true
			}
			return nil, false
		}

		literal := tmpl[:open]
		if !strings.HasPrefix(rest, literal) {
			return nil, false
		}
		rest = rest[len(literal):]
		tmpl = tmpl[open:]

		closing := strings.Index(tmpl, "}")
		if closing < 0 {
			return nil, false
		}
		name := tmpl[1:closing]
		tmpl = tmpl[closing+1:]

		// The parameter value runs to the start of the next literal, or
		// to the end of the URI for a trailing parameter.
		next := tmpl
		if i := strings.Index(next, "{"); i >= 0 {
			next = next[:i]
		}
		var value string
		if next == "" {
			value = rest
			rest = ""
		} else {
			i := strings.Index(rest, next)
			if i < 0 {
				return nil, false
			}
			value = rest[:i]
			rest = rest[i:]
		}
		if value == "" {
			return nil, false
		}
		params[name] = value
	}
	return params, rest == ""
}

// expandURITemplate substitutes {param} placeholders with argument values.
func expandURITemplate(uriTemplate string, args map[string]interface{}) (string, error) {
	out := uriTemplate
	for _, p := range templateParams(uriTemplate) {
		v, ok := args[p]
		if !ok {
			return "", metiserr.New(metiserr.KindInvalidRequest, "missing URI parameter %q", p)
		}
		s, err := encodeJSON(v)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, "{"+p+"}", s)
	}
	return out, nil
}
