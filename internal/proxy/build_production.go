//go:build !debug

package proxy

// allowInsecureTLS is false in production builds; insecure_skip_verify is rejected.
const allowInsecureTLS = false
