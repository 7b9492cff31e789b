package memnet

import (
	"crypto/rand"
	"math/big"

	"go.dedis.ch/secretcompute/types"
	"golang.org/x/xerrors"
)

// DefaultNodes is the number of simulated nodes holding shares.
const DefaultNodes = 3

// fieldPrime is 2^127 - 1. Every integer value fits below half of it.
var fieldPrime = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// sharedValue is a stored value split among the nodes. Blobs are kept whole.
type sharedValue struct {
	name string
	typ  types.ValueType
	// shares[i] is held by node i+1
	shares []*big.Int
	blob   []byte
}

// threshold is the number of shares needed to rebuild a value among n nodes.
func threshold(n int) int {
	return (n + 1) / 2
}

// share splits v among n nodes with a random polynomial of degree
// threshold(n)-1 whose constant term is the value.
func share(v types.NamedValue, n int) (sharedValue, error) {
	sv := sharedValue{name: v.Name, typ: v.Value.Type}
	if !v.Value.Type.IsInteger() {
		sv.blob = append([]byte(nil), v.Value.Blob...)
		return sv, nil
	}

	secret := new(big.Int).Mod(v.Value.Int, fieldPrime)
	poly, err := randomPolynomial(secret, threshold(n)-1)
	if err != nil {
		return sharedValue{}, xerrors.Errorf("failed to share %s: %v", v.Name, err)
	}

	sv.shares = make([]*big.Int, n)
	for i := range sv.shares {
		sv.shares[i] = evaluate(poly, big.NewInt(int64(i+1)))
	}
	return sv, nil
}

// reveal rebuilds the value from the shares of the first threshold nodes.
func (sv sharedValue) reveal() types.NamedValue {
	if sv.shares == nil {
		return types.NamedValue{Name: sv.name, Value: types.Value{Type: sv.typ, Blob: sv.blob}}
	}

	k := threshold(len(sv.shares))
	xs := make([]*big.Int, k)
	for i := range xs {
		xs[i] = big.NewInt(int64(i + 1))
	}
	secret := interpolate(xs, sv.shares[:k])

	// the upper half of the field holds negative values
	half := new(big.Int).Rsh(fieldPrime, 1)
	if secret.Cmp(half) > 0 {
		secret.Sub(secret, fieldPrime)
	}
	return types.NamedValue{Name: sv.name, Value: types.Value{Type: sv.typ, Int: secret}}
}

// -----------------------------------------------------------------------------
// Polynomials over Zp

// randomPolynomial returns the coefficients of a random polynomial with
// f(0) = secret.
func randomPolynomial(secret *big.Int, degree int) ([]*big.Int, error) {
	coefficients := make([]*big.Int, degree+1)
	coefficients[0] = secret
	for i := 1; i <= degree; i++ {
		n, err := rand.Int(rand.Reader, fieldPrime)
		if err != nil {
			return nil, err
		}
		coefficients[i] = n
	}
	return coefficients, nil
}

// evaluate computes f(x) with Horner's rule.
func evaluate(coefficients []*big.Int, x *big.Int) *big.Int {
	value := new(big.Int).Set(coefficients[len(coefficients)-1])
	for i := len(coefficients) - 2; i >= 0; i-- {
		value.Mul(value, x)
		value.Add(value, coefficients[i])
		value.Mod(value, fieldPrime)
	}
	return value
}

// interpolate returns f(0) of the polynomial going through (xs[i], ys[i]).
func interpolate(xs, ys []*big.Int) *big.Int {
	result := big.NewInt(0)
	for i, y := range ys {
		w := big.NewInt(1)
		for j, x := range xs {
			if i == j {
				continue
			}
			// w *= x / (x - xs[i])
			den := new(big.Int).Sub(x, xs[i])
			den.Mod(den, fieldPrime)
			den.ModInverse(den, fieldPrime)
			w.Mul(w, x)
			w.Mul(w, den)
			w.Mod(w, fieldPrime)
		}
		term := new(big.Int).Mul(w, y)
		result.Add(result, term)
		result.Mod(result, fieldPrime)
	}
	return result
}
