package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xpath"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/html"

	"github.com/vrsandeep/stream-go/internal/util"
)

// hostAPI is the global `host` object scripts use to reach the host.
type hostAPI struct {
	client *http.Client
	log    *zap.Logger
	vm     *goja.Runtime
	ctx    context.Context // set for the duration of a call
}

func newHostAPI(client *http.Client, log *zap.Logger) *hostAPI {
	return &hostAPI{client: client, log: log}
}

// inject installs the host object into vm.
func (h *hostAPI) inject(vm *goja.Runtime) {
	h.vm = vm
	host := vm.NewObject()

	httpObj := vm.NewObject()
	httpObj.Set("get", h.httpGet)
	host.Set("http", httpObj)

	logObj := vm.NewObject()
	logObj.Set("debug", h.logger(zap.DebugLevel))
	logObj.Set("info", h.logger(zap.InfoLevel))
	logObj.Set("warn", h.logger(zap.WarnLevel))
	logObj.Set("error", h.logger(zap.ErrorLevel))
	host.Set("log", logObj)

	htmlObj := vm.NewObject()
	htmlObj.Set("parse", h.parseHTML)
	htmlObj.Set("xpath", h.xpathQuery)
	host.Set("html", htmlObj)

	utilsObj := vm.NewObject()
	utilsObj.Set("sanitizeFilename", h.sanitizeFilename)
	host.Set("utils", utilsObj)

	vm.Set("host", host)
}

func (h *hostAPI) context() context.Context {
	if h.ctx != nil {
		return h.ctx
	}
	return context.Background()
}

func (h *hostAPI) throw(format string, args ...any) {
	panic(h.vm.NewGoError(fmt.Errorf(format, args...)))
}

// httpGet performs an HTTP GET request.
func (h *hostAPI) httpGet(call goja.FunctionCall) goja.Value {
	vm := h.vm
	url := call.Argument(0).String()
	if url == "" || goja.IsUndefined(call.Argument(0)) {
		h.throw("http.get: URL is required")
	}

	req, err := http.NewRequestWithContext(h.context(), http.MethodGet, url, nil)
	if err != nil {
		h.throw("http.get: failed to create request for %q: %v", url, err)
	}
	if headers := call.Argument(1); !goja.IsUndefined(headers) && !goja.IsNull(headers) {
		if m, ok := headers.Export().(map[string]any); ok {
			for k, v := range m {
				req.Header.Set(k, fmt.Sprint(v))
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.throw("http.get: request to %q failed: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.throw("http.get: failed to read response from %q: %v", url, err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	respObj := vm.NewObject()
	respObj.Set("status", resp.StatusCode)
	respObj.Set("statusText", resp.Status)
	respObj.Set("headers", headers)
	respObj.Set("body", string(body))
	respObj.Set("json", func(goja.FunctionCall) goja.Value {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			h.throw("http.get: response from %q is not JSON: %v", url, err)
		}
		return vm.ToValue(data)
	})
	return respObj
}

func (h *hostAPI) logger(level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if ce := h.log.Check(level, strings.Join(parts, " ")); ce != nil {
			ce.Write(zap.String("source", "script"))
		}
		return goja.Undefined()
	}
}

func (h *hostAPI) sanitizeFilename(call goja.FunctionCall) goja.Value {
	return h.vm.ToValue(util.SanitizeFilename(call.Argument(0).String(), call.Argument(1).ToBoolean()))
}

// parseHTML parses an HTML string into a document object.
func (h *hostAPI) parseHTML(call goja.FunctionCall) goja.Value {
	vm := h.vm
	htmlStr := call.Argument(0).String()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		h.throw("html.parse: failed to parse HTML: %v", err)
	}

	docObj := vm.NewObject()
	docObj.Set("querySelector", func(selector string) goja.Value {
		selection := doc.Find(selector).First()
		if selection.Length() == 0 {
			return goja.Null()
		}
		return h.elementToJS(selection)
	})
	docObj.Set("querySelectorAll", func(selector string) goja.Value {
		return h.selectionToJS(doc.Find(selector))
	})
	docObj.Set("text", doc.Text())
	// kept for html.xpath(document, expr)
	docObj.Set("_html", htmlStr)
	return docObj
}

// xpathQuery evaluates an XPath expression against a parsed document or a
// raw HTML string. Element matches become element objects; attribute and
// text matches become strings.
func (h *hostAPI) xpathQuery(call goja.FunctionCall) goja.Value {
	vm := h.vm
	if len(call.Arguments) < 2 {
		h.throw("html.xpath: requires a document or HTML string and an expression")
	}
	source := call.Argument(0)
	expr := call.Argument(1).String()

	htmlStr := source.String()
	if obj, ok := source.(*goja.Object); ok {
		if v := obj.Get("_html"); v != nil && !goja.IsUndefined(v) {
			htmlStr = v.String()
		}
	}
	if htmlStr == "" || expr == "" {
		h.throw("html.xpath: HTML and expression are required")
	}

	root, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		h.throw("html.xpath: failed to parse HTML: %v", err)
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		h.throw("html.xpath: failed to compile %q: %v", expr, err)
	}

	var results []any
	iter := compiled.Select(&htmlNavigator{node: root})
	for iter.MoveNext() {
		nav, ok := iter.Current().(*htmlNavigator)
		if !ok {
			continue
		}
		switch nav.NodeType() {
		case xpath.AttributeNode, xpath.TextNode:
			results = append(results, nav.Value())
		default:
			results = append(results, h.elementToJS(goquery.NewDocumentFromNode(nav.node).Selection))
		}
	}
	return vm.NewArray(results...)
}

// elementToJS converts a goquery selection to a JavaScript element object.
func (h *hostAPI) elementToJS(selection *goquery.Selection) goja.Value {
	vm := h.vm
	element := vm.NewObject()
	element.Set("textContent", selection.Text())
	inner, _ := selection.Html()
	element.Set("innerHTML", inner)

	element.Set("getAttribute", func(name string) goja.Value {
		val, exists := selection.Attr(name)
		if !exists {
			return goja.Null()
		}
		return vm.ToValue(val)
	})
	element.Set("querySelector", func(selector string) goja.Value {
		child := selection.Find(selector).First()
		if child.Length() == 0 {
			return goja.Null()
		}
		return h.elementToJS(child)
	})
	element.Set("querySelectorAll", func(selector string) goja.Value {
		return h.selectionToJS(selection.Find(selector))
	})
	return element
}

func (h *hostAPI) selectionToJS(selection *goquery.Selection) goja.Value {
	elements := make([]any, 0, selection.Length())
	selection.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, h.elementToJS(s))
	})
	return h.vm.NewArray(elements...)
}

// htmlNavigator implements xpath.NodeNavigator over x/net/html nodes. pos is
// 1-based while positioned on an attribute of node.
type htmlNavigator struct {
	node *html.Node
	pos  int
}

func (n *htmlNavigator) onAttr() bool {
	return n.pos > 0 && n.pos <= len(n.node.Attr)
}

func (n *htmlNavigator) NodeType() xpath.NodeType {
	if n.onAttr() {
		return xpath.AttributeNode
	}
	switch n.node.Type {
	case html.DocumentNode:
		return xpath.RootNode
	case html.TextNode:
		return xpath.TextNode
	case html.CommentNode:
		return xpath.CommentNode
	default:
		return xpath.ElementNode
	}
}

func (n *htmlNavigator) LocalName() string {
	if n.onAttr() {
		return n.node.Attr[n.pos-1].Key
	}
	if n.node.Type == html.ElementNode {
		return n.node.Data
	}
	return ""
}

func (n *htmlNavigator) Prefix() string { return "" }

func (n *htmlNavigator) Value() string {
	if n.onAttr() {
		return n.node.Attr[n.pos-1].Val
	}
	switch n.node.Type {
	case html.TextNode, html.CommentNode:
		return n.node.Data
	case html.ElementNode, html.DocumentNode:
		return goquery.NewDocumentFromNode(n.node).Text()
	}
	return ""
}

func (n *htmlNavigator) String() string { return n.Value() }

func (n *htmlNavigator) Copy() xpath.NodeNavigator {
	c := *n
	return &c
}

func (n *htmlNavigator) MoveToRoot() {
	for n.node.Parent != nil {
		n.node = n.node.Parent
	}
	n.pos = 0
}

func (n *htmlNavigator) MoveToParent() bool {
	if n.onAttr() {
		n.pos = 0
		return true
	}
	if n.node.Parent == nil {
		return false
	}
	n.node = n.node.Parent
	return true
}

func (n *htmlNavigator) MoveToNextAttribute() bool {
	if n.node.Type != html.ElementNode || n.pos >= len(n.node.Attr) {
		return false
	}
	n.pos++
	return true
}

func (n *htmlNavigator) MoveToChild() bool {
	if n.onAttr() || n.node.FirstChild == nil {
		return false
	}
	n.node = n.node.FirstChild
	return true
}

func (n *htmlNavigator) MoveToFirst() bool {
	if n.onAttr() || n.node.PrevSibling == nil {
		return false
	}
	for n.node.PrevSibling != nil {
		n.node = n.node.PrevSibling
	}
	return true
}

func (n *htmlNavigator) MoveToNext() bool {
	if n.onAttr() || n.node.NextSibling == nil {
		return false
	}
	n.node = n.node.NextSibling
	return true
}

func (n *htmlNavigator) MoveToPrevious() bool {
	if n.onAttr() || n.node.PrevSibling == nil {
		return false
	}
	n.node = n.node.PrevSibling
	return true
}

func (n *htmlNavigator) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*htmlNavigator)
	if !ok {
		return false
	}
	n.node, n.pos = o.node, o.pos
	return true
}
