package program

import (
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/xerrors"
)

var (
	validExpr  = regexp.MustCompile(`^[a-zA-Z0-9_\+\-\*(),]+$`).MatchString
	isNameChar = regexp.MustCompile(`^[a-zA-Z0-9_]$`).MatchString
	isVariable = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`).MatchString
	isNumber   = regexp.MustCompile(`^[0-9]+$`).MatchString
)

// functions are the binary functions expressions may call.
var functions = map[string]func(a, b *big.Int) *big.Int{
	"max": func(a, b *big.Int) *big.Int {
		if a.Cmp(b) >= 0 {
			return a
		}
		return b
	},
	"min": func(a, b *big.Int) *big.Int {
		if a.Cmp(b) <= 0 {
			return a
		}
		return b
	},
}

func prec(op string) int {
	switch op {
	case "+", "-":
		return 1
	case "*":
		return 2
	}
	return -1
}

// Expr is a compiled output expression.
type Expr struct {
	infix   string
	postfix []string
}

// Compile parses an infix expression over + - * and the functions max and
// min. '+' and '-' are never unary.
func Compile(infix string) (*Expr, error) {
	postfix, err := infixToPostfix(infix)
	if err != nil {
		return nil, err
	}

	// dry run to reject unbalanced expressions
	depth := 0
	for _, tok := range postfix {
		switch {
		case prec(tok) > 0 || functions[tok] != nil:
			depth--
		case isVariable(tok) || isNumber(tok):
			depth++
		default:
			return nil, xerrors.Errorf("invalid operand %q in %q", tok, infix)
		}
		if depth <= 0 {
			return nil, xerrors.Errorf("expression %q is invalid", infix)
		}
	}
	if depth != 1 {
		return nil, xerrors.Errorf("expression %q is invalid", infix)
	}

	return &Expr{infix: infix, postfix: postfix}, nil
}

// Variables returns the names the expression reads.
func (e *Expr) Variables() []string {
	vars := []string{}
	seen := map[string]struct{}{}
	for _, tok := range e.postfix {
		if functions[tok] != nil || !isVariable(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		vars = append(vars, tok)
	}
	return vars
}

// Eval computes the expression with the given variables.
func (e *Expr) Eval(env map[string]*big.Int) (*big.Int, error) {
	var s []*big.Int
	for _, tok := range e.postfix {
		switch {
		case prec(tok) > 0:
			a, b := s[len(s)-2], s[len(s)-1]
			s = s[:len(s)-2]
			res := new(big.Int)
			switch tok {
			case "+":
				res.Add(a, b)
			case "-":
				res.Sub(a, b)
			case "*":
				res.Mul(a, b)
			}
			s = append(s, res)
		case functions[tok] != nil:
			a, b := s[len(s)-2], s[len(s)-1]
			s = s[:len(s)-2]
			s = append(s, new(big.Int).Set(functions[tok](a, b)))
		case isNumber(tok):
			n, _ := new(big.Int).SetString(tok, 10)
			s = append(s, n)
		default:
			v, ok := env[tok]
			if !ok || v == nil {
				return nil, xerrors.Errorf("no value for %s", tok)
			}
			s = append(s, v)
		}
	}
	return s[0], nil
}

// String implements fmt.Stringer.
func (e *Expr) String() string {
	return e.infix
}

func infixToPostfix(infix string) ([]string, error) {
	infix = strings.ReplaceAll(infix, " ", "")
	if !validExpr(infix) {
		return nil, xerrors.Errorf("expression %q contains an illegal character", infix)
	}

	s := stack{}
	postfix := []string{}

	runes := []rune(infix)
	curName := ""
	for i, char := range runes {
		opchar := string(char)
		// if scanned character is part of an operand, keep reading it
		if isNameChar(opchar) {
			curName += opchar
			continue
		}
		if curName != "" {
			if char == '(' {
				if functions[curName] == nil {
					return nil, xerrors.Errorf("unknown function %s", curName)
				}
				s.push(curName)
			} else {
				postfix = append(postfix, curName)
			}
			curName = ""
		}

		switch char {
		case '(':
			s.push(opchar)
		case ')', ',':
			for !s.isEmpty() && s.top() != "(" {
				postfix = append(postfix, s.pop())
			}
			if s.isEmpty() {
				return nil, xerrors.Errorf("expression %q has unbalanced parentheses", infix)
			}
			if char == ',' {
				if i == 0 || !s.inFunction() {
					return nil, xerrors.Errorf("expression %q has a misplaced comma", infix)
				}
				continue
			}
			s.pop()
			if !s.isEmpty() && functions[s.top()] != nil {
				postfix = append(postfix, s.pop())
			}
		default:
			for !s.isEmpty() && prec(opchar) <= prec(s.top()) {
				postfix = append(postfix, s.pop())
			}
			s.push(opchar)
		}
	}
	if curName != "" {
		postfix = append(postfix, curName)
	}

	// Pop all the remaining elements from the stack
	for !s.isEmpty() {
		top := s.pop()
		if top == "(" {
			return nil, xerrors.Errorf("expression %q has unbalanced parentheses", infix)
		}
		postfix = append(postfix, top)
	}
	return postfix, nil
}

type stack []string

func (s *stack) push(v string) {
	*s = append(*s, v)
}

func (s *stack) pop() string {
	v := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return v
}

func (s stack) top() string {
	return s[len(s)-1]
}

func (s stack) isEmpty() bool {
	return len(s) == 0
}

// inFunction tells if the innermost open parenthesis is a function call.
func (s stack) inFunction() bool {
	return len(s) >= 2 && s[len(s)-1] == "(" && functions[s[len(s)-2]] != nil
}
