// Package drjacoby implements a general-purpose Bayesian sampler that
// draws from an arbitrary user-supplied posterior density using
// Metropolis-Hastings with parallel tempering (Metropolis coupling).
//
// A caller supplies observed data, a description of model parameters
// with bounds and initial values, a log-likelihood function, and a
// log-prior function through model.NewConfig, builds a Sampler from the
// resulting Config, and calls Run to obtain posterior draws, per-
// iteration log-density values, and convergence diagnostics.
package drjacoby
