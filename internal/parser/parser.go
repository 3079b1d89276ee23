package parser

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// ErrNoDeclarations is returned when the source parsed but holds no declarations
var ErrNoDeclarations = errors.New("no top-level declarations")

// Kind classifies a top-level declaration
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindStruct    Kind = "struct"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindConst     Kind = "const"
	KindVar       Kind = "var"
	KindImport    Kind = "import"
)

// Declaration is one top-level declaration
type Declaration struct {
	Kind     Kind
	Name     string // first declared name; empty for grouped imports
	Receiver string // receiver type for methods
	Offset   int    // byte offset of the declaration or its doc comment
	End      int    // byte offset just past the declaration
}

// Result holds what ParseSource found
type Result struct {
	PackageName  string
	Declarations []Declaration
}

// Parser handles AST-based parsing of Go source
type Parser struct {
	fset *token.FileSet
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{
		fset: token.NewFileSet(),
	}
}

// ParseSource parses src and returns its top-level declarations in source order
func (p *Parser) ParseSource(filename, src string) (*Result, error) {
	file, err := parser.ParseFile(p.fset, filename, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	tf := p.fset.File(file.Pos())
	if tf == nil {
		return nil, fmt.Errorf("parse %s: missing file position info", filename)
	}

	res := &Result{PackageName: file.Name.Name}
	for _, decl := range file.Decls {
		d := Declaration{
			Offset: tf.Offset(declStart(decl)),
			End:    tf.Offset(decl.End()),
		}
		switch n := decl.(type) {
		case *ast.FuncDecl:
			d.Name = n.Name.Name
			d.Kind = KindFunction
			if n.Recv != nil && len(n.Recv.List) > 0 {
				d.Kind = KindMethod
				d.Receiver = receiverName(n.Recv.List[0].Type)
			}
		case *ast.GenDecl:
			d.Kind, d.Name = genDeclInfo(n)
		default:
			continue
		}
		res.Declarations = append(res.Declarations, d)
	}

	if len(res.Declarations) == 0 {
		return res, ErrNoDeclarations
	}
	return res, nil
}

// Boundaries returns the byte offsets where src should be cut so that each
// piece holds one top-level declaration. The first piece keeps the package
// clause and anything before the first declaration.
func Boundaries(res *Result) []int {
	cuts := make([]int, 0, len(res.Declarations))
	for i, d := range res.Declarations {
		if i == 0 {
			continue
		}
		cuts = append(cuts, d.Offset)
	}
	return cuts
}

func declStart(decl ast.Decl) token.Pos {
	switch n := decl.(type) {
	case *ast.FuncDecl:
		if n.Doc != nil {
			return n.Doc.Pos()
		}
	case *ast.GenDecl:
		if n.Doc != nil {
			return n.Doc.Pos()
		}
	}
	return decl.Pos()
}

func genDeclInfo(g *ast.GenDecl) (Kind, string) {
	switch g.Tok {
	case token.IMPORT:
		return KindImport, ""
	case token.CONST, token.VAR:
		kind := KindVar
		if g.Tok == token.CONST {
			kind = KindConst
		}
		for _, spec := range g.Specs {
			if vs, ok := spec.(*ast.ValueSpec); ok && len(vs.Names) > 0 {
				return kind, vs.Names[0].Name
			}
		}
		return kind, ""
	case token.TYPE:
		for _, spec := range g.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			switch ts.Type.(type) {
			case *ast.StructType:
				return KindStruct, ts.Name.Name
			case *ast.InterfaceType:
				return KindInterface, ts.Name.Name
			default:
				return KindType, ts.Name.Name
			}
		}
	}
	return KindType, ""
}

// receiverName extracts the receiver type name from a method, dropping
// pointers and type parameters
func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}

// Symbols returns "Receiver.Name" or "Name" for each declaration that falls
// inside [start, end), skipping imports
func Symbols(res *Result, start, end int) []string {
	var out []string
	for _, d := range res.Declarations {
		if d.Kind == KindImport || d.Name == "" {
			continue
		}
		if d.Offset < start || d.Offset >= end {
			continue
		}
		name := d.Name
		if d.Receiver != "" {
			name = strings.Join([]string{d.Receiver, d.Name}, ".")
		}
		out = append(out, name)
	}
	return out
}
