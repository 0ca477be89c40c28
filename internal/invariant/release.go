//go:build !debug

package invariant

const debugBuild = false
