// Package parser locates top-level declarations in Go source.
//
// The chunker uses declaration boundaries to cut Go files at function, method
// and type edges instead of at arbitrary blank lines:
//
//	p := parser.New()
//	res, err := p.ParseSource("server.go", src)
//	if err != nil {
//	    // not valid Go; fall back to separator-based splitting
//	}
//	for _, d := range res.Declarations {
//	    fmt.Println(d.Kind, d.Name, d.Offset)
//	}
//
// Offsets are byte positions into the source. A declaration's Offset starts at
// its doc comment when it has one, so comments stay attached to the code
// they describe.
package parser
