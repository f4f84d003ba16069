// Package autograd shows the framework's reverse-mode differentiation at
// work: a hand-sized graph whose gradient can be checked by eye, and a
// finite-difference check of a full network's backward pass.
package autograd
