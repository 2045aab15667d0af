package lsp

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/lex"
	"src.xyfit.dev/pkg/logutil"
	"src.xyfit.dev/pkg/session"
)

var logger = logutil.GetLogger("[lsp] ")

var (
	errMethodNotFound = &jsonrpc2.Error{
		Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"}
	errInvalidParams = &jsonrpc2.Error{
		Code: jsonrpc2.CodeInvalidParams, Message: "invalid params"}
)

// Commands that start a line, offered as completions with the keywords.
var commands = []string{"define", "undefine", "print", "info"}

type server struct {
	// Only used to check scripts and look up function types; nothing is
	// ever run in it.
	sess    *session.Session
	content map[lsp.DocumentURI]string
}

func newServer() (*server, error) {
	sess, err := session.New(session.Config{})
	if err != nil {
		return nil, err
	}
	return &server{sess, make(map[lsp.DocumentURI]string)}, nil
}

func handler(s *server) jsonrpc2.Handler {
	return routingHandler(map[string]method{
		"initialize":              s.initialize,
		"textDocument/didOpen":    s.didOpen,
		"textDocument/didChange":  s.didChange,
		"textDocument/hover":      s.hover,
		"textDocument/completion": s.completion,

		"textDocument/didClose": s.didClose,
		// Sent by clients after initialize.
		"initialized": noop,
		// Called by clients even when server doesn't advertise support:
		// https://microsoft.github.io/language-server-protocol/specification#workspace_didChangeWatchedFiles
		"workspace/didChangeWatchedFiles": noop,
	})
}

type method func(context.Context, jsonrpc2.JSONRPC2, json.RawMessage) (any, error)

func noop(_ context.Context, _ jsonrpc2.JSONRPC2, _ json.RawMessage) (any, error) {
	return nil, nil
}

func routingHandler(methods map[string]method) jsonrpc2.Handler {
	return jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		fn, ok := methods[req.Method]
		if !ok {
			logger.Printf("unknown method %s", req.Method)
			return nil, errMethodNotFound
		}
		var params json.RawMessage
		if req.Params != nil {
			params = *req.Params
		}
		return fn(ctx, conn, params)
	})
}

// Handler implementations. These are all called synchronously.

func (s *server) initialize(_ context.Context, _ jsonrpc2.JSONRPC2, _ json.RawMessage) (any, error) {
	return &lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{
				Options: &lsp.TextDocumentSyncOptions{
					OpenClose: true,
					Change:    lsp.TDSKFull,
				},
			},
			HoverProvider:      true,
			CompletionProvider: &lsp.CompletionOptions{},
		},
	}, nil
}

func (s *server) didOpen(ctx context.Context, conn jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.DidOpenTextDocumentParams
	if json.Unmarshal(rawParams, &params) != nil {
		return nil, errInvalidParams
	}

	uri, content := params.TextDocument.URI, params.TextDocument.Text
	s.content[uri] = content
	go publishDiagnostics(ctx, conn, uri, s.diagnostics(uri, content))
	return nil, nil
}

func (s *server) didChange(ctx context.Context, conn jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.DidChangeTextDocumentParams
	if json.Unmarshal(rawParams, &params) != nil || len(params.ContentChanges) == 0 {
		return nil, errInvalidParams
	}

	// ContentChanges includes full text since the server is only advertised to
	// support that; see the initialize method.
	uri, content := params.TextDocument.URI, params.ContentChanges[0].Text
	s.content[uri] = content
	go publishDiagnostics(ctx, conn, uri, s.diagnostics(uri, content))
	return nil, nil
}

func (s *server) didClose(_ context.Context, _ jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.DidCloseTextDocumentParams
	if json.Unmarshal(rawParams, &params) != nil {
		return nil, errInvalidParams
	}
	delete(s.content, params.TextDocument.URI)
	return nil, nil
}

// hover shows the formula of the function type under the cursor.
func (s *server) hover(_ context.Context, _ jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.TextDocumentPositionParams
	if json.Unmarshal(rawParams, &params) != nil {
		return nil, errInvalidParams
	}

	content := s.content[params.TextDocument.URI]
	t, ok := nameAt(content, lspPositionToIdx(content, params.Position))
	if !ok {
		return lsp.Hover{}, nil
	}
	d, ok := s.sess.Registry().Lookup(t.Text)
	if !ok {
		return lsp.Hover{}, nil
	}
	r := lspRangeFromRange(content, t)
	return lsp.Hover{
		Contents: []lsp.MarkedString{{Language: "xyfit", Value: d.String()}},
		Range:    &r,
	}, nil
}

// nameAt returns the name token that contains or ends at idx.
func nameAt(content string, idx int) (lex.Token, bool) {
	pos := 0
	for {
		t, err := lex.Next("", content, pos)
		if err != nil || t.Kind == lex.EOF || t.From > idx {
			return lex.Token{}, false
		}
		if t.Kind == lex.Name && t.From <= idx && idx <= t.To {
			return t, true
		}
		pos = t.To
	}
}

func (s *server) completion(_ context.Context, _ jsonrpc2.JSONRPC2, rawParams json.RawMessage) (any, error) {
	var params lsp.CompletionParams
	if json.Unmarshal(rawParams, &params) != nil {
		return nil, errInvalidParams
	}

	content := s.content[params.TextDocument.URI]
	dot := lspPositionToIdx(content, params.Position)
	start := dot
	for start > 0 && isNameChar(content[start-1]) {
		start--
	}
	prefix := content[start:dot]
	lspRange := lspRangeFromRange(content, diag.Ranging{From: start, To: dot})

	items := []lsp.CompletionItem{}
	add := func(label string, kind lsp.CompletionItemKind, detail string) {
		if strings.HasPrefix(label, prefix) {
			items = append(items, lsp.CompletionItem{
				Label:    label,
				Kind:     kind,
				Detail:   detail,
				TextEdit: &lsp.TextEdit{Range: lspRange, NewText: label},
			})
		}
	}
	for _, d := range s.sess.Registry().Definitions() {
		add(d.Name, lsp.CIKClass, d.Signature())
	}
	for _, name := range expr.Functions() {
		add(name, lsp.CIKFunction, "")
	}
	keywords := append(expr.Keywords(), commands...)
	sort.Strings(keywords)
	for _, name := range keywords {
		add(name, lsp.CIKKeyword, "")
	}
	return items, nil
}

func isNameChar(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func publishDiagnostics(ctx context.Context, conn jsonrpc2.JSONRPC2, uri lsp.DocumentURI, diags []lsp.Diagnostic) {
	conn.Notify(ctx, "textDocument/publishDiagnostics",
		lsp.PublishDiagnosticsParams{URI: uri, Diagnostics: diags})
}

func (s *server) diagnostics(uri lsp.DocumentURI, content string) []lsp.Diagnostic {
	err := s.sess.Check(expr.Source{Name: string(uri), Code: content})
	entries := diag.UnpackErrors[diag.SyntaxTag](err)
	diags := make([]lsp.Diagnostic, len(entries))
	for i, err := range entries {
		diags[i] = lsp.Diagnostic{
			Range:    lspRangeFromRange(content, err),
			Severity: lsp.Error,
			Source:   "xyfit",
			Message:  err.Message,
		}
	}
	return diags
}

func lspRangeFromRange(s string, r diag.Ranger) lsp.Range {
	rg := r.Range()
	return lsp.Range{
		Start: lspPositionFromIdx(s, rg.From),
		End:   lspPositionFromIdx(s, rg.To),
	}
}

func lspPositionToIdx(s string, pos lsp.Position) int {
	var idx int
	walkString(s, func(i int, p lsp.Position) bool {
		idx = i
		return p.Line < pos.Line || (p.Line == pos.Line && p.Character < pos.Character)
	})
	return idx
}

func lspPositionFromIdx(s string, idx int) lsp.Position {
	var pos lsp.Position
	walkString(s, func(i int, p lsp.Position) bool {
		pos = p
		return i < idx
	})
	return pos
}

// Generates (index, lspPosition) pairs in s, stopping if f returns false.
func walkString(s string, f func(i int, p lsp.Position) bool) {
	var p lsp.Position
	lastCR := false

	for i, r := range s {
		if !f(i, p) {
			return
		}
		switch {
		case r == '\r':
			p.Line++
			p.Character = 0
		case r == '\n':
			if lastCR {
				// Ignore \n if it's part of a \r\n sequence
			} else {
				p.Line++
				p.Character = 0
			}
		case r <= 0xFFFF:
			// Encoded in UTF-16 with one unit
			p.Character++
		default:
			// Encoded in UTF-16 with two units
			p.Character += 2
		}
		lastCR = r == '\r'
	}
	f(len(s), p)
}
