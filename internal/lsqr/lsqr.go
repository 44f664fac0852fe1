// Package lsqr implements the Paige–Saunders LSQR algorithm for sparse
// damped least squares,
//
//	min ‖Ax − b‖² + damp²‖x‖²
//
// using only products with A and Aᵗ. The termination codes and norm
// estimates follow the published algorithm (ACM TOMS 8, 1982).
package lsqr

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/tdreloc/internal/fault"
)

// Operator is the only view of A the solver needs.
type Operator interface {
	Dims() (r, c int)
	MulVec(x []float64) ([]float64, error)
	MulTransVec(x []float64) ([]float64, error)
}

// Termination codes.
const (
	StopExactZero      = 0 // x = 0 is the exact solution
	StopResidual       = 1 // Ax − b small enough for atol, btol
	StopLeastSquares   = 2 // least-squares solution good enough for atol
	StopCondition      = 3 // cond(Abar) exceeded conlim
	StopResidualEps    = 4 // Ax − b small enough for machine precision
	StopLeastSquaresEp = 5 // least-squares solution good for machine precision
	StopConditionEps   = 6 // cond(Abar) too large for machine precision
	StopIterationLimit = 7 // iteration limit reached
)

var messages = [...]string{
	"the exact solution is x = 0",
	"Ax - b is small enough, given atol, btol",
	"the least-squares solution is good enough, given atol",
	"the estimate of cond(Abar) has exceeded conlim",
	"Ax - b is small enough for this machine",
	"the least-squares solution is good enough for this machine",
	"cond(Abar) seems to be too large for this machine",
	"the iteration limit has been reached",
}

// Message describes a termination code.
func Message(istop int) string {
	if istop < 0 || istop >= len(messages) {
		return "unknown termination code"
	}
	return messages[istop]
}

const eps = 2.220446049250313e-16

// Options controls a solve. Zero tolerances take the defaults below.
type Options struct {
	Damp    float64
	Atol    float64 // default 1e-6
	Btol    float64 // default 1e-6
	Conlim  float64 // default 1e8; negative disables the test
	IterLim int     // default 2·cols
	CalcVar bool
}

// Result is the outcome of a solve.
type Result struct {
	X      []float64
	Istop  int
	Itn    int
	R1Norm float64 // ‖b − Ax‖
	R2Norm float64 // sqrt(‖b − Ax‖² + damp²‖x‖²)
	Anorm  float64
	Acond  float64
	Arnorm float64 // ‖Aᵗ(b − Ax) − damp²x‖
	Xnorm  float64
	// Var holds diagonal estimates of (AᵗA + damp²I)⁻¹ when requested.
	Var []float64
}

// Converged reports whether the solve stopped on a tolerance test rather
// than on the condition or iteration limits.
func (r *Result) Converged() bool {
	switch r.Istop {
	case StopExactZero, StopResidual, StopLeastSquares, StopResidualEps, StopLeastSquaresEp:
		return true
	}
	return false
}

// Message describes the termination code of the result.
func (r *Result) Message() string { return Message(r.Istop) }

func (o Options) withDefaults(cols int) Options {
	if o.Atol <= 0 {
		o.Atol = 1e-6
	}
	if o.Btol <= 0 {
		o.Btol = 1e-6
	}
	if o.Conlim == 0 {
		o.Conlim = 1e8
	}
	if o.IterLim <= 0 {
		o.IterLim = 2 * cols
	}
	return o
}

// SymOrtho computes a stable Givens rotation (c, s, r) with
// [c s; -s c]·[a; b] = [r; 0]. Either input may be zero.
func SymOrtho(a, b float64) (c, s, r float64) {
	switch {
	case b == 0:
		return sign(a), 0, math.Abs(a)
	case a == 0:
		return 0, sign(b), math.Abs(b)
	case math.Abs(b) > math.Abs(a):
		tau := a / b
		s = sign(b) / math.Sqrt(1+tau*tau)
		c = s * tau
		r = b / s
	default:
		tau := b / a
		c = sign(a) / math.Sqrt(1+tau*tau)
		s = c * tau
		r = a / c
	}
	return c, s, r
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// Solve runs LSQR on A·x ≈ b. The context is checked every iteration; a
// cancelled context returns an error wrapping fault.ErrInterrupted.
func Solve(ctx context.Context, a Operator, b []float64, opts Options) (*Result, error) {
	m, n := a.Dims()
	if len(b) != m {
		return nil, eris.Errorf("lsqr: rhs length %d, want %d", len(b), m)
	}
	if opts.Damp < 0 {
		return nil, eris.Errorf("lsqr: negative damping %g", opts.Damp)
	}
	opts = opts.withDefaults(n)

	res := &Result{X: make([]float64, n)}
	if opts.CalcVar {
		res.Var = make([]float64, n)
	}
	x := res.X

	ctol := 0.0
	if opts.Conlim > 0 {
		ctol = 1 / opts.Conlim
	}
	damp := opts.Damp
	dampsq := damp * damp

	var (
		anorm, acond     float64
		ddnorm, res2     float64
		xnorm, xxnorm, z float64
		alfa, beta       float64
		cs2, sn2         = -1.0, 0.0
		v                = make([]float64, n)
		err              error
	)
	progress := rate.Sometimes{First: 1, Interval: 2 * time.Second}

	u := append([]float64(nil), b...)
	bnorm := floats.Norm(u, 2)
	beta = bnorm
	if beta > 0 {
		floats.Scale(1/beta, u)
		if v, err = a.MulTransVec(u); err != nil {
			return nil, eris.Wrap(err, "lsqr: transpose multiply")
		}
		alfa = floats.Norm(v, 2)
	}
	if alfa > 0 {
		floats.Scale(1/alfa, v)
	}
	w := append([]float64(nil), v...)

	rhobar, phibar := alfa, beta
	res.R1Norm, res.R2Norm = beta, beta
	res.Arnorm = alfa * beta
	if res.Arnorm == 0 {
		res.Istop = StopExactZero
		return res, nil
	}

	dk := make([]float64, n)
	for res.Itn < opts.IterLim {
		if err := fault.Interrupted(ctx, "lsqr"); err != nil {
			return nil, err
		}
		res.Itn++

		// Bidiagonalization: beta·u = A·v − alfa·u, alfa·v = Aᵗ·u − beta·v.
		av, err := a.MulVec(v)
		if err != nil {
			return nil, eris.Wrap(err, "lsqr: multiply")
		}
		floats.AddScaledTo(u, av, -alfa, u)
		beta = floats.Norm(u, 2)
		if beta > 0 {
			floats.Scale(1/beta, u)
			anorm = math.Sqrt(anorm*anorm + alfa*alfa + beta*beta + dampsq)
			atu, err := a.MulTransVec(u)
			if err != nil {
				return nil, eris.Wrap(err, "lsqr: transpose multiply")
			}
			floats.AddScaledTo(v, atu, -beta, v)
			alfa = floats.Norm(v, 2)
			if alfa > 0 {
				floats.Scale(1/alfa, v)
			}
		}

		// Eliminate the damping parameter.
		rhobar1, psi := rhobar, 0.0
		if damp > 0 {
			rhobar1 = math.Hypot(rhobar, damp)
			cs1 := rhobar / rhobar1
			sn1 := damp / rhobar1
			psi = sn1 * phibar
			phibar = cs1 * phibar
		}

		cs, sn, rho := SymOrtho(rhobar1, beta)
		if rho == 0 {
			// Bidiagonalization broke down; x cannot improve further.
			res.Istop = StopResidualEps
			break
		}
		theta := sn * alfa
		rhobar = -cs * alfa
		phi := cs * phibar
		phibar = sn * phibar
		tau := sn * phi

		t1 := phi / rho
		t2 := -theta / rho
		for i := range dk {
			dk[i] = w[i] / rho
		}
		floats.AddScaled(x, t1, w)
		floats.AddScaledTo(w, v, t2, w)
		dkn := floats.Norm(dk, 2)
		ddnorm += dkn * dkn
		if opts.CalcVar {
			for i, d := range dk {
				res.Var[i] += d * d
			}
		}

		// Estimate ‖x‖ with a second plane rotation.
		delta := sn2 * rho
		gambar := -cs2 * rho
		rhs := phi - delta*z
		zbar := rhs / gambar
		xnorm = math.Sqrt(xxnorm + zbar*zbar)
		gamma := math.Hypot(gambar, theta)
		cs2 = gambar / gamma
		sn2 = theta / gamma
		z = rhs / gamma
		xxnorm += z * z

		acond = anorm * math.Sqrt(ddnorm)
		res1 := phibar * phibar
		res2 += psi * psi
		rnorm := math.Sqrt(res1 + res2)
		arnorm := alfa * math.Abs(tau)

		r1sq := rnorm*rnorm - dampsq*xxnorm
		r1norm := math.Sqrt(math.Abs(r1sq))
		if r1sq < 0 {
			r1norm = -r1norm
		}

		res.Anorm, res.Acond = anorm, acond
		res.R1Norm, res.R2Norm = r1norm, rnorm
		res.Arnorm, res.Xnorm = arnorm, xnorm

		test1 := rnorm / bnorm
		test2 := arnorm / (anorm*rnorm + eps)
		test3 := 1 / (acond + eps)
		rt1 := test1 / (1 + anorm*xnorm/bnorm)
		rtol := opts.Btol + opts.Atol*anorm*xnorm/bnorm

		istop := 0
		if res.Itn >= opts.IterLim {
			istop = StopIterationLimit
		}
		if 1+test3 <= 1 {
			istop = StopConditionEps
		}
		if 1+test2 <= 1 {
			istop = StopLeastSquaresEp
		}
		if 1+rt1 <= 1 {
			istop = StopResidualEps
		}
		if test3 <= ctol {
			istop = StopCondition
		}
		if test2 <= opts.Atol {
			istop = StopLeastSquares
		}
		if test1 <= rtol {
			istop = StopResidual
		}

		progress.Do(func() {
			zap.L().Debug("lsqr: iteration",
				zap.Int("itn", res.Itn),
				zap.Float64("r1norm", r1norm),
				zap.Float64("compatible", test1),
				zap.Float64("ls", test2),
				zap.Float64("anorm", anorm),
				zap.Float64("acond", acond),
			)
		})

		if istop != 0 {
			res.Istop = istop
			break
		}
	}
	return res, nil
}
