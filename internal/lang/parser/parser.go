// Package parser implements the recursive-descent parser of spec §4.2,
// turning a lexer.Token stream into an *ast.Node tree.
package parser

import (
	"fmt"

	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/lang/lexer"
)

// Error is a parse-time failure carrying the offending token's position.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parser consumes a fixed token slice produced by the lexer.
type Parser struct {
	toks []lexer.Token
	pos  int
}

// Parse tokenizes and parses src into the top-level block node.
func Parse(src string) (*ast.Node, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	return p.ParseProgram()
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *Parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) check(k lexer.Kind) bool { return p.cur().Kind == k }

func (p *Parser) match(k lexer.Kind) (lexer.Token, bool) {
	if p.check(k) {
		return p.advance(), true
	}
	return lexer.Token{}, false
}

func (p *Parser) expect(k lexer.Kind, what string) (lexer.Token, error) {
	if p.check(k) {
		return p.advance(), nil
	}
	t := p.cur()
	return lexer.Token{}, &Error{t.Line, t.Col, fmt.Sprintf("expected %s, got %q", what, t.Lexeme)}
}

// ParseProgram parses the whole source as an implicit top-level block
// (statements until EOF, no surrounding braces).
func (p *Parser) ParseProgram() (*ast.Node, error) {
	root := ast.NewBase()
	for !p.check(lexer.EOF) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, stmt)
	}
	return root, nil
}

// parseBraceBlock parses a '{' statement* '}' sequence, used by if/for
// bodies.
func (p *Parser) parseBraceBlock() ([]*ast.Node, error) {
	if _, err := p.expect(lexer.LBrace, "'{'"); err != nil {
		return nil, err
	}
	var stmts []*ast.Node
	for !p.check(lexer.RBrace) {
		if p.check(lexer.EOF) {
			t := p.cur()
			return nil, &Error{t.Line, t.Col, "unterminated block, expected '}'"}
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	p.advance() // consume '}'
	return stmts, nil
}

func (p *Parser) parseStatement() (*ast.Node, error) {
	switch p.cur().Kind {
	case lexer.KwIf:
		return p.parseIf()
	case lexer.KwFor:
		return p.parseForEach()
	default:
		return p.parseSimpleStatement()
	}
}

func (p *Parser) parseIf() (*ast.Node, error) {
	p.advance() // 'if'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	thenBlock, err := p.parseBraceBlock()
	if err != nil {
		return nil, err
	}
	var elseBlock []*ast.Node
	if _, ok := p.match(lexer.KwElse); ok {
		if p.check(lexer.KwIf) {
			elseIf, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			elseBlock = []*ast.Node{elseIf}
		} else {
			elseBlock, err = p.parseBraceBlock()
			if err != nil {
				return nil, err
			}
		}
	}
	return ast.NewIf(cond, thenBlock, elseBlock), nil
}

func (p *Parser) parseForEach() (*ast.Node, error) {
	p.advance() // 'for'
	name, err := p.expect(lexer.Ident, "loop variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KwIn, "'in'"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBraceBlock()
	if err != nil {
		return nil, err
	}
	return ast.NewForEach(name.Lexeme, iter, body), nil
}

// parseSimpleStatement handles assignment expressions and the pays
// statement: `<expr> ;` or `<var> pays <expr> [in <ccy-expr>] ;`.
func (p *Parser) parseSimpleStatement() (*ast.Node, error) {
	left, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, ok := p.match(lexer.KwPays); ok {
		payout, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		var ccy *ast.Node
		if _, ok := p.match(lexer.KwIn); ok {
			ccy, err = p.parseAssignment()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(lexer.Semicolon, "';'"); err != nil {
			return nil, err
		}
		return ast.NewPays(left, payout, ccy), nil
	}
	if _, err := p.expect(lexer.Semicolon, "';'"); err != nil {
		return nil, err
	}
	return left, nil
}

// parseAssignment: right-associative, lowest precedence. Compound
// assignments desugar to `lhs = lhs op rhs`.
func (p *Parser) parseAssignment() (*ast.Node, error) {
	left, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	switch p.cur().Kind {
	case lexer.Assign:
		p.advance()
		right, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		return ast.NewBinary(ast.Assign, left, right), nil
	case lexer.PlusEq, lexer.MinusEq, lexer.StarEq, lexer.SlashEq:
		opTok := p.advance()
		right, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		var opKind ast.Kind
		switch opTok.Kind {
		case lexer.PlusEq:
			opKind = ast.Add
		case lexer.MinusEq:
			opKind = ast.Sub
		case lexer.StarEq:
			opKind = ast.Mul
		case lexer.SlashEq:
			opKind = ast.Div
		}
		return ast.NewBinary(ast.Assign, left, ast.NewBinary(opKind, left, right)), nil
	}
	return left, nil
}

func (p *Parser) parseLogicalOr() (*ast.Node, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.match(lexer.OrOr); !ok {
			return left, nil
		}
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinary(ast.Or, left, right)
	}
}

func (p *Parser) parseLogicalAnd() (*ast.Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.match(lexer.AndAnd); !ok {
			return left, nil
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinary(ast.And, left, right)
	}
}

func (p *Parser) parseEquality() (*ast.Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case lexer.Eq:
			p.advance()
			right, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			left = ast.NewBinary(ast.Equal, left, right)
		case lexer.Neq:
			p.advance()
			right, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			left = ast.NewBinary(ast.NotEqual, left, right)
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseComparison() (*ast.Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Kind {
		case lexer.Lt:
			kind = ast.Inferior
		case lexer.Gt:
			kind = ast.Superior
		case lexer.Le:
			kind = ast.InferiorOrEqual
		case lexer.Ge:
			kind = ast.SuperiorOrEqual
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinary(kind, left, right)
	}
}

func (p *Parser) parseAdditive() (*ast.Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Kind {
		case lexer.Plus:
			kind = ast.Add
		case lexer.Minus:
			kind = ast.Sub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinary(kind, left, right)
	}
}

func (p *Parser) parseMultiplicative() (*ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var kind ast.Kind
		switch p.cur().Kind {
		case lexer.Star:
			kind = ast.Mul
		case lexer.Slash:
			kind = ast.Div
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinary(kind, left, right)
	}
}

func (p *Parser) parseUnary() (*ast.Node, error) {
	switch p.cur().Kind {
	case lexer.Plus:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.NewUnary(ast.UnaryPlus, operand), nil
	case lexer.Minus:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.NewUnary(ast.UnaryMinus, operand), nil
	default:
		return p.parsePower()
	}
}

// parsePower occupies the precedence slot the source grammar reserves for
// a right-associative power operator; this surface has no infix power
// token (pow is spelled as the pow(a,b) intrinsic), so it delegates
// straight through to postfix/call parsing.
func (p *Parser) parsePower() (*ast.Node, error) {
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (*ast.Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case lexer.LBracket:
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.RBracket, "']'"); err != nil {
				return nil, err
			}
			node = ast.NewCall(ast.Index, node, idx)
		case lexer.Dot:
			p.advance()
			switch p.cur().Kind {
			case lexer.KwAppend:
				p.advance()
				if _, err := p.expect(lexer.LParen, "'('"); err != nil {
					return nil, err
				}
				arg, err := p.parseAssignment()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(lexer.RParen, "')'"); err != nil {
					return nil, err
				}
				node = ast.NewCall(ast.Append, node, arg)
			case lexer.KwMean:
				p.advance()
				if _, err := p.expect(lexer.LParen, "'('"); err != nil {
					return nil, err
				}
				if _, err := p.expect(lexer.RParen, "')'"); err != nil {
					return nil, err
				}
				node = ast.NewCall(ast.Mean, node)
			case lexer.KwStd:
				p.advance()
				if _, err := p.expect(lexer.LParen, "'('"); err != nil {
					return nil, err
				}
				if _, err := p.expect(lexer.RParen, "')'"); err != nil {
					return nil, err
				}
				node = ast.NewCall(ast.Std, node)
			default:
				t := p.cur()
				return nil, &Error{t.Line, t.Col, fmt.Sprintf("expected append/mean/std after '.', got %q", t.Lexeme)}
			}
		default:
			return node, nil
		}
	}
}

// parseExpr is the full-precedence expression entry point, used wherever
// an expression appears that is not itself a statement (call arguments,
// array elements, index expressions).
func (p *Parser) parseExpr() (*ast.Node, error) {
	return p.parseAssignment()
}

func (p *Parser) parsePrimary() (*ast.Node, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.Int, lexer.Float:
		p.advance()
		return ast.NewConstant(t.Num), nil
	case lexer.String:
		p.advance()
		return ast.NewString(t.Lexeme), nil
	case lexer.KwTrue:
		p.advance()
		return ast.NewBool(true), nil
	case lexer.KwFalse:
		p.advance()
		return ast.NewBool(false), nil
	case lexer.Ident:
		p.advance()
		return ast.NewVariable(t.Lexeme), nil
	case lexer.LParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case lexer.LBracket:
		return p.parseListLiteral()
	case lexer.KwMin:
		return p.parseVariadicIntrinsic(ast.Min)
	case lexer.KwMax:
		return p.parseVariadicIntrinsic(ast.Max)
	case lexer.KwExp:
		return p.parseUnaryIntrinsic(ast.Exp)
	case lexer.KwLn:
		return p.parseUnaryIntrinsic(ast.Ln)
	case lexer.KwSqrt:
		return p.parseUnaryIntrinsic(ast.Sqrt)
	case lexer.KwPow:
		return p.parseBinaryIntrinsic(ast.Pow)
	case lexer.KwFif:
		return p.parseFif()
	case lexer.KwCvg:
		return p.parseCvg()
	case lexer.KwSpot:
		return p.parseSpot()
	case lexer.KwDf:
		return p.parseDf()
	case lexer.KwRateIndex:
		return p.parseRateIndex()
	case lexer.KwRange:
		return p.parseRange()
	}
	return nil, &Error{t.Line, t.Col, fmt.Sprintf("unexpected token %q", t.Lexeme)}
}

func (p *Parser) parseListLiteral() (*ast.Node, error) {
	p.advance() // '['
	var elems []*ast.Node
	if !p.check(lexer.RBracket) {
		for {
			e, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
			if _, ok := p.match(lexer.Comma); !ok {
				break
			}
		}
	}
	if _, err := p.expect(lexer.RBracket, "']'"); err != nil {
		return nil, err
	}
	return ast.NewCall(ast.List, elems...), nil
}

func (p *Parser) parseVariadicIntrinsic(kind ast.Kind) (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	var args []*ast.Node
	for {
		a, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if _, ok := p.match(lexer.Comma); !ok {
			break
		}
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewCall(kind, args...), nil
}

func (p *Parser) parseUnaryIntrinsic(kind ast.Kind) (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	arg, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewUnary(kind, arg), nil
}

func (p *Parser) parseBinaryIntrinsic(kind ast.Kind) (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	a, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	b, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewBinary(kind, a, b), nil
}

// parseFif parses fif(x, a, b, eps).
func (p *Parser) parseFif() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	var args []*ast.Node
	for i := 0; i < 4; i++ {
		a, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if i < 3 {
			if _, err := p.expect(lexer.Comma, "','"); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewCall(ast.Fif, args...), nil
}

// parseCvg parses cvg(start, end, daycount).
func (p *Parser) parseCvg() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	start, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	end, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	dc, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewCall(ast.Cvg, start, end, dc), nil
}

// parseSpot parses Spot(ccy1, ccy2[, date]).
func (p *Parser) parseSpot() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	ccy1, err := p.expect(lexer.String, "currency string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	ccy2, err := p.expect(lexer.String, "currency string")
	if err != nil {
		return nil, err
	}
	var date *ast.Node
	if _, ok := p.match(lexer.Comma); ok {
		date, err = p.parseAssignment()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewSpot(ccy1.Lexeme, ccy2.Lexeme, date), nil
}

// parseDf parses Df(curve, date).
func (p *Parser) parseDf() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	curve, err := p.expect(lexer.String, "curve name string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	date, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewDf(curve.Lexeme, date), nil
}

// parseRateIndex parses RateIndex(name, start, end).
func (p *Parser) parseRateIndex() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.String, "index name string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	start, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	end, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewRateIndex(name.Lexeme, start, end), nil
}

// parseRange parses range(a,b) (inclusive of b per spec §4.6 evaluator).
func (p *Parser) parseRange() (*ast.Node, error) {
	p.advance()
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	start, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Comma, "','"); err != nil {
		return nil, err
	}
	end, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	return ast.NewCall(ast.Range, start, end), nil
}
