//go:build debug

package invariant

const debugBuild = true
