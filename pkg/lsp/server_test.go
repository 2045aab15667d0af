package lsp

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	conn  *jsonrpc2.Conn
	diags chan lsp.PublishDiagnosticsParams
}

type clientHandler struct {
	diags chan lsp.PublishDiagnosticsParams
}

func (h clientHandler) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method != "textDocument/publishDiagnostics" || req.Params == nil {
		return
	}
	var params lsp.PublishDiagnosticsParams
	if json.Unmarshal(*req.Params, &params) == nil {
		h.diags <- params
	}
}

func setup(t *testing.T) *client {
	t.Helper()
	s, err := newServer()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	serverSide, clientSide := net.Pipe()
	serverConn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}), handler(s))
	c := &client{diags: make(chan lsp.PublishDiagnosticsParams, 10)}
	c.conn = jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}), clientHandler{c.diags})
	t.Cleanup(func() {
		c.conn.Close()
		serverConn.Close()
		cancel()
	})
	return c
}

func (c *client) call(t *testing.T, method string, params, result any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.conn.Call(ctx, method, params, result))
}

func (c *client) open(t *testing.T, uri lsp.DocumentURI, text string) {
	t.Helper()
	require.NoError(t, c.conn.Notify(context.Background(), "textDocument/didOpen",
		lsp.DidOpenTextDocumentParams{TextDocument: lsp.TextDocumentItem{URI: uri, Text: text}}))
}

func (c *client) nextDiagnostics(t *testing.T) lsp.PublishDiagnosticsParams {
	t.Helper()
	select {
	case d := <-c.diags:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for diagnostics")
		return lsp.PublishDiagnosticsParams{}
	}
}

func TestInitialize(t *testing.T) {
	c := setup(t)
	var res lsp.InitializeResult
	c.call(t, "initialize", lsp.InitializeParams{}, &res)
	assert.True(t, res.Capabilities.HoverProvider)
	assert.NotNil(t, res.Capabilities.CompletionProvider)
}

func TestUnknownMethod(t *testing.T) {
	c := setup(t)
	err := c.conn.Call(context.Background(), "textDocument/rename", struct{}{}, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}

func TestDiagnostics(t *testing.T) {
	c := setup(t)
	c.open(t, "file:///a.xy", "print 1\nprint (1\n")
	got := c.nextDiagnostics(t)
	want := lsp.PublishDiagnosticsParams{
		URI: "file:///a.xy",
		Diagnostics: []lsp.Diagnostic{{
			Range: lsp.Range{
				Start: lsp.Position{Line: 1, Character: 8},
				End:   lsp.Position{Line: 1, Character: 8},
			},
			Severity: lsp.Error,
			Source:   "xyfit",
			Message:  "unexpected end of input; expecting operator or closing bracket",
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diagnostics (-want +got):\n%s", diff)
	}

	require.NoError(t, c.conn.Notify(context.Background(), "textDocument/didChange",
		lsp.DidChangeTextDocumentParams{
			TextDocument:   lsp.VersionedTextDocumentIdentifier{TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: "file:///a.xy"}},
			ContentChanges: []lsp.TextDocumentContentChangeEvent{{Text: "print (1)\n"}},
		}))
	got = c.nextDiagnostics(t)
	assert.Empty(t, got.Diagnostics)
}

func TestHover(t *testing.T) {
	c := setup(t)
	c.open(t, "file:///a.xy", "%g = Gaussian(1, 2, 3)")
	c.nextDiagnostics(t)

	var h lsp.Hover
	c.call(t, "textDocument/hover", lsp.TextDocumentPositionParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: "file:///a.xy"},
		Position:     lsp.Position{Line: 0, Character: 7},
	}, &h)
	require.Len(t, h.Contents, 1)
	assert.Equal(t, "Gaussian(height, center, hwhm) = height*exp(-ln(2)*((x-center)/hwhm)^2)",
		h.Contents[0].Value)
	require.NotNil(t, h.Range)
	assert.Equal(t, lsp.Range{
		Start: lsp.Position{Line: 0, Character: 5},
		End:   lsp.Position{Line: 0, Character: 13},
	}, *h.Range)

	h = lsp.Hover{}
	c.call(t, "textDocument/hover", lsp.TextDocumentPositionParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: "file:///a.xy"},
		Position:     lsp.Position{Line: 0, Character: 1},
	}, &h)
	assert.Empty(t, h.Contents)
}

func TestCompletion(t *testing.T) {
	c := setup(t)
	c.open(t, "file:///a.xy", "%g = Gau")
	c.nextDiagnostics(t)

	var items []lsp.CompletionItem
	c.call(t, "textDocument/completion", lsp.CompletionParams{
		TextDocumentPositionParams: lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: "file:///a.xy"},
			Position:     lsp.Position{Line: 0, Character: 8},
		},
	}, &items)
	var labels []string
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	assert.Equal(t, []string{"Gaussian", "GaussianA"}, labels)
	assert.Equal(t, "Gaussian(height, center, hwhm)", items[0].Detail)
	assert.Equal(t, lsp.Range{
		Start: lsp.Position{Line: 0, Character: 5},
		End:   lsp.Position{Line: 0, Character: 8},
	}, items[0].TextEdit.Range)

	items = nil
	c.open(t, "file:///b.xy", "de")
	c.nextDiagnostics(t)
	c.call(t, "textDocument/completion", lsp.CompletionParams{
		TextDocumentPositionParams: lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: "file:///b.xy"},
			Position:     lsp.Position{Line: 0, Character: 2},
		},
	}, &items)
	labels = nil
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	assert.Equal(t, []string{"define", "delete"}, labels)
}
