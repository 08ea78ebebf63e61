// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stableswap

import (
	"fmt"
	"math/big"
)

// Invariant math. Balances passed in are normalised 18-decimal values (xp).
// The invariant is
//
//	A·nⁿ·Σx + D = A·D·nⁿ + D^(n+1) / (nⁿ·Πx)
//
// and is solved for D and for one unknown balance by Newton's method.

// ann returns A·nⁿ.
func ann(amp uint64, n int) *big.Int {
	nn := new(big.Int).Exp(big.NewInt(int64(n)), big.NewInt(int64(n)), nil)
	return nn.Mul(nn, new(big.Int).SetUint64(amp))
}

// getD solves the invariant for D. Every xp must be positive.
func getD(xp []*big.Int, amp uint64) (*big.Int, error) {
	n := len(xp)
	sum := new(big.Int)
	for _, x := range xp {
		if x.Sign() <= 0 {
			return nil, fmt.Errorf("%w: non-positive balance", ErrInsufficientLiquidity)
		}
		sum.Add(sum, x)
	}
	if n == 0 {
		return new(big.Int), nil
	}
	if n == 1 {
		return sum, nil
	}

	nBig := big.NewInt(int64(n))
	a := ann(amp, n)
	d := new(big.Int).Set(sum)
	for i := 0; i < maxIterations; i++ {
		// dP = D^(n+1) / (nⁿ·Πx)
		dP := new(big.Int).Set(d)
		for _, x := range xp {
			dP.Mul(dP, d)
			dP.Div(dP, new(big.Int).Mul(x, nBig))
		}
		prev := d

		// D = (Ann·S + dP·n)·D / ((Ann-1)·D + (n+1)·dP)
		num := new(big.Int).Mul(a, sum)
		num.Add(num, new(big.Int).Mul(dP, nBig))
		num.Mul(num, d)
		den := new(big.Int).Sub(a, one)
		den.Mul(den, d)
		den.Add(den, new(big.Int).Mul(dP, big.NewInt(int64(n+1))))
		d = num.Div(num, den)

		if within1(d, prev) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: D", ErrNotConverged)
}

// getY returns the balance of token j that keeps D constant after token i's
// balance becomes x.
func getY(i, j int, x *big.Int, xp []*big.Int, amp uint64) (*big.Int, error) {
	n := len(xp)
	if i == j || i < 0 || j < 0 || i >= n || j >= n {
		return nil, ErrInvalidIndex
	}
	d, err := getD(xp, amp)
	if err != nil {
		return nil, err
	}

	nBig := big.NewInt(int64(n))
	a := ann(amp, n)
	c := new(big.Int).Set(d)
	s := new(big.Int)
	for k := 0; k < n; k++ {
		var xk *big.Int
		switch k {
		case i:
			xk = x
		case j:
			continue
		default:
			xk = xp[k]
		}
		s.Add(s, xk)
		c.Mul(c, d)
		c.Div(c, new(big.Int).Mul(xk, nBig))
	}
	c.Mul(c, d)
	c.Div(c, new(big.Int).Mul(a, nBig))

	b := new(big.Int).Div(d, a)
	b.Add(b, s)

	y := new(big.Int).Set(d)
	for it := 0; it < maxIterations; it++ {
		prev := y
		// y = (y² + c) / (2y + b - D)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Lsh(y, 1)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil, fmt.Errorf("%w: y", ErrNotConverged)
		}
		y = num.Div(num, den)
		if within1(y, prev) {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w: y", ErrNotConverged)
}

func within1(a, b *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	return diff.CmpAbs(one) <= 0
}

// precisionMul returns 10^(18-decimals).
func precisionMul(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision-int(decimals))), nil)
}

// rateOf converts raw token units into 18-decimal USD: xp = amount·rate/1e18.
// Stablecoins are valued at exactly 1.0.
func rateOf(t *PoolToken, price *big.Int) *big.Int {
	r := precisionMul(t.Decimals)
	if t.IsStablecoin {
		return r.Mul(r, unit)
	}
	return r.Mul(r, price)
}

func toXP(amount, rate *big.Int) *big.Int {
	x := new(big.Int).Mul(amount, rate)
	return x.Div(x, unit)
}

func fromXP(x, rate *big.Int) *big.Int {
	amt := new(big.Int).Mul(x, unit)
	return amt.Div(amt, rate)
}

// mulBps returns v·bps/10000.
func mulBps(v *big.Int, bps uint64) *big.Int {
	r := new(big.Int).Mul(v, new(big.Int).SetUint64(bps))
	return r.Div(r, big.NewInt(BasisPoints))
}
