// Package garage bootstraps an account: it runs cloud discovery once and
// builds one session controller per garage door opener found.
package garage
