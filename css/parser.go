package css

import (
	"bytes"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Parser parses CSS stylesheets into structured rules.
type Parser struct {
	log *zap.Logger
}

// NewParser creates a new CSS parser.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("css-parser")}
}

// Parse parses CSS text into a Stylesheet.
// The optional source parameter identifies what's being parsed (for debug logging).
func (p *Parser) Parse(data []byte, source ...string) *Stylesheet {
	sheet := &Stylesheet{}

	if len(source) > 0 && source[0] != "" {
		p.log.Debug("Parsing CSS", zap.String("source", source[0]), zap.Int("bytes", len(data)))
	}

	input := parse.NewInput(bytes.NewReader(data))
	parser := css.NewParser(input, false)

	for {
		gt, _, data := parser.Next()

		switch gt {
		case css.ErrorGrammar:
			// End of input or error
			if err := parser.Err(); err != nil && err.Error() != "EOF" {
				p.log.Debug("CSS parse error", zap.Error(err))
				sheet.Warnings = append(sheet.Warnings, err.Error())
			}
			return sheet

		case css.BeginAtRuleGrammar:
			switch string(data) {
			case "@font-face":
				sheet.FontFaces = append(sheet.FontFaces, p.parseFontFace(parser))
			default:
				// @media and friends carry nothing the rendition reads
				p.skipAtRuleBlock(parser)
			}

		case css.BeginRulesetGrammar, css.QualifiedRuleGrammar:
			selectors := parseSelectors(data, parser.Values())
			declarations := p.parseDeclarations(parser)
			for _, sel := range selectors {
				sheet.Rules = append(sheet.Rules, Rule{Selector: sel, Declarations: declarations})
			}
		}
	}
}

// parseSelectors extracts selector strings from token data.
func parseSelectors(data []byte, values []css.Token) []string {
	var sb strings.Builder
	sb.Write(data)
	for _, v := range values {
		sb.Write(v.Data)
	}

	var selectors []string
	for s := range strings.SplitSeq(sb.String(), ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			selectors = append(selectors, s)
		}
	}
	return selectors
}

// parseDeclarations parses property declarations until EndRulesetGrammar.
func (p *Parser) parseDeclarations(parser *css.Parser) []Declaration {
	var declarations []Declaration

	for {
		gt, _, data := parser.Next()

		switch gt {
		case css.ErrorGrammar, css.EndRulesetGrammar:
			return declarations

		case css.DeclarationGrammar:
			declarations = append(declarations, Declaration{
				Property: strings.ToLower(string(data)),
				Value:    tokensToString(parser.Values()),
			})

		case css.CustomPropertyGrammar:
			// CSS custom properties (--var) are irrelevant for layout hints
			continue
		}
	}
}

func (p *Parser) parseFontFace(parser *css.Parser) FontFace {
	var ff FontFace
	for {
		gt, _, data := parser.Next()
		switch gt {
		case css.ErrorGrammar, css.EndAtRuleGrammar:
			return ff
		case css.DeclarationGrammar:
			value := tokensToString(parser.Values())
			switch strings.ToLower(string(data)) {
			case "font-family":
				ff.Family = strings.Trim(value, `'" `)
			case "src":
				ff.Src = value
			}
		}
	}
}

func (p *Parser) skipAtRuleBlock(parser *css.Parser) {
	depth := 1
	for depth > 0 {
		switch gt, _, _ := parser.Next(); gt {
		case css.ErrorGrammar:
			return
		case css.BeginAtRuleGrammar, css.BeginRulesetGrammar:
			depth++
		case css.EndAtRuleGrammar, css.EndRulesetGrammar:
			depth--
		}
	}
}

func tokensToString(tokens []css.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.Write(t.Data)
	}
	return strings.TrimSpace(sb.String())
}
