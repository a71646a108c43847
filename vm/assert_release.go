//go:build objmodel_release

package vm

const assertionsEnabled = false
