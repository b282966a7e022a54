// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

const htmlModuleName = "_HTML"

// RegisterHTMLModule installs the HTML compatibility module, grounded on
// html_module.c: _HTML:PARSE parses a document, _HTML:XPATH runs a small
// XPath subset against it.
//
// The original's _HTML:XPATH never bound its result to a variable — it
// evaluated the query and discarded it, so a script had no way to read
// the match out. This redesign always binds the result to the given
// variable, joining multiple matches with newlines.
func RegisterHTMLModule(gc *GlobalContext) {
	gc.Registry.Register(&Command{
		Module: htmlModuleName, Name: "PARSE",
		Syntax:  "_HTML:PARSE <html>",
		Help:    "parse an HTML document for later _HTML:XPATH queries",
		Handler: cmdHTMLParse,
	})
	gc.Registry.Register(&Command{
		Module: htmlModuleName, Name: "XPATH",
		Syntax:  `_HTML:XPATH "<expr>" VAR`,
		Help:    "evaluate an XPath expression against the parsed document into VAR",
		Handler: cmdHTMLXPath,
	})
}

func cmdHTMLParse(ctx context.Context, w *Worker, args string, arena *Arena) error {
	doc := substituted(w, strings.TrimSpace(args))
	if doc == "" {
		return NewStatusError(KindArgument, Origin{}, "_HTML:PARSE", "need a html document as parameter")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_HTML:PARSE", err.Error())
	}
	w.SetModuleState(htmlModuleName, root)
	return nil
}

func cmdHTMLXPath(ctx context.Context, w *Worker, args string, arena *Arena) error {
	toks, err := tokenizeQuoted(strings.TrimSpace(args))
	if err != nil || len(toks) < 2 {
		return NewStatusError(KindParse, Origin{}, "_HTML:XPATH", `usage: _HTML:XPATH "<expr>" VAR`)
	}
	expr := substituted(w, toks[0])
	varName := toks[1]

	state := w.ModuleState(htmlModuleName)
	root, ok := state.(*html.Node)
	if !ok || root == nil {
		return NewStatusError(KindDispatch, Origin{}, "_HTML:XPATH", "do _HTML:PARSE first")
	}

	matches, err := evalMiniXPath(root, expr)
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_HTML:XPATH", err.Error())
	}
	w.Scope.Set(varName, StringValue(strings.Join(matches, "\n")))
	return nil
}

// evalMiniXPath supports the subset of XPath scripts realistically need
// for scraping test fixtures: "//tag", "//tag/@attr", "//tag/text()",
// and "//tag[@attr='value']", optionally chained with a single additional
// "/tag" step. There is no XPath library anywhere in the retrieval pack
// (golang.org/x/net itself stops at html/css tokenizing); see DESIGN.md
// for why this is hand-rolled rather than imported.
func evalMiniXPath(root *html.Node, expr string) ([]string, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "//") {
		return nil, fmt.Errorf("only //-rooted expressions are supported: %q", expr)
	}
	steps := strings.Split(strings.TrimPrefix(expr, "//"), "/")
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty expression")
	}

	tag, attrFilter, attrVal := parseTagStep(steps[0])
	nodes := findAll(root, tag, attrFilter, attrVal)

	for _, step := range steps[1:] {
		switch {
		case step == "text()":
			var out []string
			for _, n := range nodes {
				out = append(out, nodeText(n))
			}
			return out, nil
		case strings.HasPrefix(step, "@"):
			attr := strings.TrimPrefix(step, "@")
			var out []string
			for _, n := range nodes {
				if v, ok := nodeAttr(n, attr); ok {
					out = append(out, v)
				}
			}
			return out, nil
		default:
			childTag, childFilter, childVal := parseTagStep(step)
			var next []*html.Node
			for _, n := range nodes {
				next = append(next, findAll(n, childTag, childFilter, childVal)...)
			}
			nodes = next
		}
	}

	var out []string
	for _, n := range nodes {
		out = append(out, nodeText(n))
	}
	return out, nil
}

// parseTagStep splits a step like `tag[@attr='val']` into its tag name
// and an optional attribute equality filter.
func parseTagStep(step string) (tag, attr, val string) {
	open := strings.Index(step, "[@")
	if open < 0 {
		return step, "", ""
	}
	tag = step[:open]
	inner := step[open+2:]
	inner = strings.TrimSuffix(inner, "]")
	name, quoted, ok := strings.Cut(inner, "=")
	if !ok {
		return tag, strings.TrimSpace(inner), ""
	}
	return tag, strings.TrimSpace(name), strings.Trim(strings.TrimSpace(quoted), `'"`)
}

func findAll(root *html.Node, tag, attrFilter, attrVal string) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			if attrFilter == "" {
				out = append(out, n)
			} else if v, ok := nodeAttr(n, attrFilter); ok && (attrVal == "" || v == attrVal) {
				out = append(out, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func nodeAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
