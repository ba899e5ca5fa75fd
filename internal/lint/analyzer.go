// Package lint reports malformed instance ids and interest names passed as
// constants to the push notifications SDK.
package lint

import (
	"errors"
	"go/ast"
	"go/constant"
	"go/types"
	"strconv"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"

	"github.com/tinywideclouds/go-pushnotifications/pkg/validation"
)

const (
	SDKPackage    = "github.com/tinywideclouds/go-pushnotifications/pushnotifications"
	CompatPackage = SDKPackage + "/compat"
)

const doc = `check push notifications instance ids and interest names

Calls into the pushnotifications and pushnotifications/compat packages are
checked wherever a parameter named instanceID, interest or interests is bound
to a constant string (or a slice literal of them).`

var Analyzer = &analysis.Analyzer{
	Name:     "pushlint",
	Doc:      doc,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	insp.Preorder([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node) {
		call := n.(*ast.CallExpr)
		fn, ok := typeutil.Callee(pass.TypesInfo, call).(*types.Func)
		if !ok || fn.Pkg() == nil {
			return
		}
		if path := fn.Pkg().Path(); path != SDKPackage && path != CompatPackage {
			return
		}
		sig, ok := fn.Type().(*types.Signature)
		if !ok {
			return
		}

		params := sig.Params()
		for i, arg := range call.Args {
			if i >= params.Len() || (sig.Variadic() && i >= params.Len()-1) {
				break
			}
			switch params.At(i).Name() {
			case "instanceID":
				checkInstanceID(pass, arg)
			case "interest":
				checkInterest(pass, arg)
			case "interests":
				if lit, ok := ast.Unparen(arg).(*ast.CompositeLit); ok {
					for _, elt := range lit.Elts {
						checkInterest(pass, elt)
					}
				}
			}
		}
	})
	return nil, nil
}

func constantString(pass *analysis.Pass, expr ast.Expr) (string, bool) {
	tv, ok := pass.TypesInfo.Types[expr]
	if !ok || tv.Value == nil || tv.Value.Kind() != constant.String {
		return "", false
	}
	return constant.StringVal(tv.Value), true
}

func checkInstanceID(pass *analysis.Pass, arg ast.Expr) {
	value, ok := constantString(pass, arg)
	if !ok {
		return
	}
	if err := validation.ValidateInstanceID(value); err != nil {
		report(pass, arg, err, "")
	}
}

// checkInterest reports the length and character rules separately so both
// show up on a name that breaks both.
func checkInterest(pass *analysis.Pass, arg ast.Expr) {
	value, ok := constantString(pass, arg)
	if !ok {
		return
	}
	if err := validation.CheckInterestLength(value); err != nil {
		runes := []rune(value)
		report(pass, arg, err, string(runes[:validation.MaxInterestLength]))
	}
	if err := validation.CheckInterestCharacters(value); err != nil {
		report(pass, arg, err, validation.SanitizeInterest(value))
	}
}

// report attaches a fix replacing the literal with fixed, when arg is a
// string literal and fixed is non-empty.
func report(pass *analysis.Pass, arg ast.Expr, err error, fixed string) {
	diag := analysis.Diagnostic{
		Pos:     arg.Pos(),
		End:     arg.End(),
		Message: err.Error(),
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		diag.Category = verr.Kind.String()
	}

	if lit, ok := ast.Unparen(arg).(*ast.BasicLit); ok && fixed != "" {
		diag.SuggestedFixes = []analysis.SuggestedFix{{
			Message: "Replace with " + strconv.Quote(fixed),
			TextEdits: []analysis.TextEdit{{
				Pos:     lit.Pos(),
				End:     lit.End(),
				NewText: []byte(strconv.Quote(fixed)),
			}},
		}}
	}
	pass.Report(diag)
}
