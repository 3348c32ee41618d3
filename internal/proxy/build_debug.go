//go:build debug

package proxy

// allowInsecureTLS lets debug builds skip certificate verification on probes.
const allowInsecureTLS = true
