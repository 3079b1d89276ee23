package chunker

import (
	"path"
	"strings"
)

// Strategy selects how a file is chunked
type Strategy int

const (
	StrategyText Strategy = iota
	StrategyMarkdown
	StrategyCode
	StrategyGo
)

func (s Strategy) String() string {
	switch s {
	case StrategyMarkdown:
		return "markdown"
	case StrategyCode:
		return "code"
	case StrategyGo:
		return "go"
	default:
		return "text"
	}
}

var extensionStrategies = map[string]Strategy{
	".md":       StrategyMarkdown,
	".markdown": StrategyMarkdown,
	".mdx":      StrategyMarkdown,
	".go":       StrategyGo,
	".py":       StrategyCode,
	".pyi":      StrategyCode,
	".js":       StrategyCode,
	".jsx":      StrategyCode,
	".mjs":      StrategyCode,
	".ts":       StrategyCode,
	".tsx":      StrategyCode,
	".java":     StrategyCode,
	".kt":       StrategyCode,
	".scala":    StrategyCode,
	".rs":       StrategyCode,
	".rb":       StrategyCode,
	".php":      StrategyCode,
	".c":        StrategyCode,
	".h":        StrategyCode,
	".cc":       StrategyCode,
	".cpp":      StrategyCode,
	".hpp":      StrategyCode,
	".cs":       StrategyCode,
	".swift":    StrategyCode,
	".sh":       StrategyCode,
	".lua":      StrategyCode,
}

// StrategyFor picks a strategy from the file name; unknown extensions get
// StrategyText
func StrategyFor(filePath string) Strategy {
	ext := strings.ToLower(path.Ext(filePath))
	if s, ok := extensionStrategies[ext]; ok {
		return s
	}
	return StrategyText
}

// Separators, coarsest first. The empty separator splits between characters.
var (
	textSeparators = []string{"\n\n", "\n", " ", ""}

	codeSeparators = []string{
		"\nclass ",
		"\ndef ",
		"\n\tdef ",
		"\n    def ",
		"\nfunc ",
		"\nfunction ",
		"\nexport ",
		"\npub fn ",
		"\nfn ",
		"\nimpl ",
		"\ninterface ",
		"\nstruct ",
		"\n\n",
		"\n",
		" ",
		"",
	}

	goSeparators = []string{"\nfunc ", "\ntype ", "\nvar ", "\nconst ", "\n\n", "\n", " ", ""}
)
