package poisson

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

func (model *Model) fitIRLS(pr *problem, start []float64) ([]float64, int, error) {

	nobs, nvar := pr.z.Dims()

	params := make([]float64, nvar)
	copy(params, start)

	linpred := make([]float64, nobs)
	mn := make([]float64, nobs)
	irlsw := make([]float64, nobs)
	adjy := make([]float64, nobs)

	var nparam mat.VecDense
	xty := mat.NewVecDense(nvar, nil)

	for iter := 0; iter < model.maxIter; iter++ {

		pr.mean(params, mn)
		for i := range mn {
			linpred[i] = math.Log(mn[i])
		}

		// Weights and adjusted response for WLS, the log link has
		// derivative 1/μ and the variance is μ.
		for i, y := range pr.y {
			irlsw[i] = pr.w[i] * mn[i]
			adjy[i] = linpred[i] + (y-mn[i])/mn[i]
		}

		for i := range adjy {
			adjy[i] *= irlsw[i]
		}
		xty.MulVec(pr.z.T(), mat.NewVecDense(nobs, adjy))

		var chol mat.Cholesky
		if ok := chol.Factorize(pr.information(mn)); !ok {
			return nil, iter, errors.Wrapf(ErrSingular, "IRLS iteration %d", iter+1)
		}
		if err := chol.SolveVecTo(&nparam, xty); err != nil {
			return nil, iter, errors.Wrapf(ErrSingular, "IRLS iteration %d: %v", iter+1, err)
		}

		// Check convergence
		step := floats.Distance(params, nparam.RawVector().Data, math.Inf(1))
		copy(params, nparam.RawVector().Data)

		if model.log != nil {
			model.log.WithFields(logrus.Fields{
				"iteration": iter + 1,
				"deviance":  pr.deviance(mn),
				"step":      step,
			}).Debug("IRLS")
		}

		if step < model.tol {
			return params, iter + 1, nil
		}
	}

	return params, model.maxIter, errors.Wrapf(ErrNonConvergence, "%d iterations", model.maxIter)
}

// fitBFGS maximizes the pseudo log-likelihood.
func (model *Model) fitBFGS(pr *problem, start []float64) ([]float64, int, error) {

	nobs := len(pr.y)
	mn := make([]float64, nobs)

	p := optimize.Problem{
		Func: func(x []float64) float64 {
			pr.mean(x, mn)
			return -pr.logLike(mn)
		},
		Grad: func(grad, x []float64) {
			pr.mean(x, mn)
			pr.score(mn, grad)
			floats.Scale(-1, grad)
		},
	}

	settings := model.settings
	if settings == nil {
		settings = &optimize.Settings{
			GradientThreshold: 1e-8,
		}
	}

	optrslt, err := optimize.Minimize(p, start, settings, &optimize.BFGS{})
	if err != nil {
		return nil, 0, errors.Wrap(err, "BFGS")
	}
	if err = optrslt.Status.Err(); err != nil {
		return nil, optrslt.Stats.MajorIterations, errors.Wrap(err, "BFGS")
	}

	if model.log != nil {
		model.log.WithFields(logrus.Fields{
			"iterations":  optrslt.Stats.MajorIterations,
			"evaluations": optrslt.Stats.FuncEvaluations,
			"status":      optrslt.Status.String(),
		}).Debug("BFGS")
	}

	return optrslt.X, optrslt.Stats.MajorIterations, nil
}
